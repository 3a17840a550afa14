package weather

import "strings"

// counties are the location names accepted by the county forecast dataset.
var counties = []string{
	"臺北市", "新北市", "桃園市", "臺中市", "臺南市", "高雄市",
	"基隆市", "新竹市", "嘉義市",
	"新竹縣", "苗栗縣", "彰化縣", "南投縣", "雲林縣", "嘉義縣",
	"屏東縣", "宜蘭縣", "花蓮縣", "臺東縣", "澎湖縣", "金門縣", "連江縣",
}

// FindLocation returns the first county or city named in text. "台" is
// accepted for "臺", and the 市/縣 suffix may be omitted when the short name
// is unambiguous.
func FindLocation(text string) (string, bool) {
	text = strings.ReplaceAll(text, "台", "臺")
	for _, name := range counties {
		if strings.Contains(text, name) {
			return name, true
		}
	}
	for _, name := range counties {
		short := []rune(name)
		short = short[:len(short)-1]
		if strings.Contains(text, string(short)) && !ambiguous(string(short)) {
			return name, true
		}
	}
	return "", false
}

// ambiguous reports short names shared by a city and a county (新竹, 嘉義).
func ambiguous(short string) bool {
	n := 0
	for _, name := range counties {
		if strings.HasPrefix(name, short) {
			n++
		}
	}
	return n > 1
}
