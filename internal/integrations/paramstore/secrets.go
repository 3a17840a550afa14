package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Parameter names, relative to the deployment prefix.
const (
	ChannelSecretParam      = "/line/channel-secret"
	ChannelAccessTokenParam = "/line/channel-access-token"
	WeatherAPIKeyParam      = "/weather-api-key"
)

// Resolve returns value when it is set, otherwise the parameter prefix+suffix.
// An empty prefix with an empty value is an error.
func Resolve(ctx context.Context, getter Getter, value, prefix, suffix string) (string, error) {
	if v := strings.TrimSpace(value); v != "" {
		return v, nil
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "", fmt.Errorf("paramstore: no value and no prefix for %q", suffix)
	}
	if getter == nil {
		return "", errors.New("paramstore: getter must not be nil")
	}
	v, err := getter.GetParameter(ctx, prefix+suffix)
	if err != nil {
		return "", err
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("paramstore: parameter %q is empty", prefix+suffix)
	}
	return v, nil
}
