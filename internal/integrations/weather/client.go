package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultBaseURL = "https://opendata.cwa.gov.tw/api/v1/rest/datastore"
	forecastDataID = "F-C0032-001"
)

// ErrNoMatch is returned when the API has no forecast for the location.
var ErrNoMatch = errors.New("weather: no matching forecast")

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("weather: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client reads the 36-hour county forecast from the Central Weather
// Administration open data API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("weather: api key must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return c, nil
}

// FindLocation delegates to the package-level matcher so Client satisfies the
// lookup interface used by the chat flow.
func (c *Client) FindLocation(text string) (string, bool) {
	return FindLocation(text)
}

// Current returns a one-line summary of the first forecast period, e.g.
// "臺北市：多雲，降雨機率 20%，氣溫 22~28°C，舒適".
func (c *Client) Current(ctx context.Context, location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", errors.New("weather: location is required")
	}

	q := url.Values{}
	q.Set("Authorization", c.apiKey)
	q.Set("locationName", location)
	endpoint := c.baseURL + "/" + forecastDataID + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("weather: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("weather: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &HTTPStatusError{StatusCode: res.StatusCode, Body: string(buf)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("weather: read response body: %w", err)
	}
	return summarize(buf)
}

func summarize(raw []byte) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", errors.New("weather: decode response: invalid JSON")
	}
	loc := gjson.GetBytes(raw, "records.location.0")
	if !loc.Exists() {
		return "", ErrNoMatch
	}

	element := func(name string) string {
		return loc.Get(`weatherElement.#(elementName=="` + name + `").time.0.parameter.parameterName`).String()
	}
	wx := element("Wx")
	if wx == "" {
		return "", ErrNoMatch
	}

	parts := []string{wx}
	if pop := element("PoP"); pop != "" {
		parts = append(parts, "降雨機率 "+pop+"%")
	}
	minT, maxT := element("MinT"), element("MaxT")
	if minT != "" && maxT != "" {
		parts = append(parts, "氣溫 "+minT+"~"+maxT+"°C")
	}
	if ci := element("CI"); ci != "" {
		parts = append(parts, ci)
	}
	return loc.Get("locationName").String() + "：" + strings.Join(parts, "，"), nil
}
