package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	weatherTrigger = "查詢天氣"
	weatherKeyword = "天氣"
	weatherTimeout = 5 * time.Second

	// WeatherNoMatch stands in for the forecast when no lookup succeeded.
	WeatherNoMatch = "查無符合的天氣資料"
)

// WeatherLookup finds a location in free text and summarises its forecast.
type WeatherLookup interface {
	FindLocation(text string) (string, bool)
	Current(ctx context.Context, location string) (string, error)
}

// augmentWithWeather prepends a forecast summary when the user asks about the
// weather. Lookup failures never abort the turn; the placeholder is used instead.
func (s *ChatService) augmentWithWeather(ctx context.Context, userID, text string) string {
	if s.weather == nil || !strings.Contains(text, weatherKeyword) {
		return text
	}
	location, found := s.weather.FindLocation(text)
	if !found && !strings.Contains(text, weatherTrigger) {
		return text
	}

	summary := WeatherNoMatch
	if found {
		wctx, cancel := context.WithTimeout(ctx, weatherTimeout)
		got, err := s.weather.Current(wctx, location)
		cancel()
		if err != nil {
			slog.WarnContext(ctx, "weather lookup failed", "user_id", userID, "location", location, "err", err)
		} else {
			summary = got
		}
	}
	return summary + "\n" + text
}
