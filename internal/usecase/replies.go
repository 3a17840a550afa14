package usecase

import "errors"

// Fixed texts sent back to the user. No error detail ever reaches the chat.
const (
	ClearedReply   = "對話歷史紀錄已經清空！"
	NonTextReply   = "目前只支援文字訊息，請傳送文字喔！"
	StoreReadReply = "抱歉，目前無法讀取對話紀錄，請稍後再試。"
	ApologyReply   = "抱歉，系統暫時無法回應，請稍後再試。"
)

// ReplyText maps a Converse error to the text the user receives.
func ReplyText(err error) string {
	var ucErr *Error
	if !errors.As(err, &ucErr) {
		return ApologyReply
	}
	switch ucErr.Code {
	case ErrorNonTextInput:
		return NonTextReply
	case ErrorStoreRead:
		return StoreReadReply
	default:
		return ApologyReply
	}
}
