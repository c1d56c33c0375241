// Package alphavantage fetches intraday candles from the Alpha Vantage API.
package alphavantage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rewired-gh/marketalert/internal/logger"
	"github.com/rewired-gh/marketalert/internal/models"
)

const DefaultBaseURL = "https://www.alphavantage.co"

var (
	// ErrEmptySeries is returned when the API answers without any candles.
	ErrEmptySeries = errors.New("empty data from Alpha Vantage API")
	// ErrRateLimited is returned when the API answers with a throttling note.
	ErrRateLimited = errors.New("alpha vantage rate limit reached")
)

// Client provides access to the Alpha Vantage TIME_SERIES_INTRADAY endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	cacheDir   string
	useCache   bool
}

// Option customises a Client.
type Option func(*Client)

// WithRetry sets the attempt count and the linear backoff step.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// WithCache enables reuse of previously fetched series stored under dir.
func WithCache(dir string) Option {
	return func(c *Client) {
		c.useCache = true
		c.cacheDir = dir
	}
}

// NewClient creates a new Alpha Vantage client.
func NewClient(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: 3,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 1
	}
	return c
}

type metaData struct {
	Symbol        string `json:"2. Symbol"`
	LastRefreshed string `json:"3. Last Refreshed"`
	Interval      string `json:"4. Interval"`
	TimeZone      string `json:"6. Time Zone"`
}

type bar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// FetchIntraday returns the intraday series for symbol in ascending time order.
func (c *Client) FetchIntraday(ctx context.Context, symbol, interval string) ([]models.Candle, error) {
	if c.useCache {
		if candles, err := c.readCache(symbol, interval); err == nil {
			logger.Debug("Using cached series for %s (%s): %d candles", symbol, interval, len(candles))
			return candles, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Ignoring unreadable cache for %s: %v", symbol, err)
		}
	}

	u, err := url.Parse(c.baseURL + "/query")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("function", "TIME_SERIES_INTRADAY")
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("apikey", c.apiKey)
	u.RawQuery = q.Encode()

	body, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", symbol, err)
	}

	candles, err := parseIntraday(body, interval)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", symbol, err)
	}

	if c.useCache {
		if err := c.writeCache(symbol, interval, candles); err != nil {
			logger.Warn("Failed to write cache for %s: %v", symbol, err)
		}
	}
	return candles, nil
}

// parseIntraday decodes a TIME_SERIES_INTRADAY body. Timestamps are read in the time
// zone the response reports.
func parseIntraday(body []byte, interval string) ([]models.Candle, error) {
	var raw map[string]json.RawMessage
	if err := sonic.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if msg, ok := raw["Error Message"]; ok {
		return nil, fmt.Errorf("api error: %s", unquote(msg))
	}
	for _, key := range []string{"Note", "Information"} {
		if msg, ok := raw[key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, unquote(msg))
		}
	}

	loc := time.UTC
	if metaRaw, ok := raw["Meta Data"]; ok {
		var meta metaData
		if err := sonic.Unmarshal(metaRaw, &meta); err != nil {
			return nil, fmt.Errorf("failed to decode meta data: %w", err)
		}
		if meta.TimeZone != "" {
			l, err := time.LoadLocation(meta.TimeZone)
			if err != nil {
				return nil, fmt.Errorf("unknown time zone %q: %w", meta.TimeZone, err)
			}
			loc = l
		}
	}

	seriesRaw, ok := raw["Time Series ("+interval+")"]
	if !ok {
		return nil, ErrEmptySeries
	}
	var series map[string]bar
	if err := sonic.Unmarshal(seriesRaw, &series); err != nil {
		return nil, fmt.Errorf("failed to decode time series: %w", err)
	}
	if len(series) == 0 {
		return nil, ErrEmptySeries
	}

	candles := make([]models.Candle, 0, len(series))
	for stamp, b := range series {
		t, err := time.ParseInLocation("2006-01-02 15:04:05", stamp, loc)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", stamp, err)
		}
		c, err := b.toCandle(t)
		if err != nil {
			return nil, fmt.Errorf("bad candle at %s: %w", stamp, err)
		}
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
	return candles, nil
}

func (b bar) toCandle(t time.Time) (models.Candle, error) {
	var (
		c   = models.Candle{Time: t.UnixMilli()}
		err error
	)
	fields := []struct {
		dst *float64
		src string
	}{
		{&c.Open, b.Open},
		{&c.High, b.High},
		{&c.Low, b.Low},
		{&c.Close, b.Close},
	}
	for _, f := range fields {
		if *f.dst, err = strconv.ParseFloat(f.src, 64); err != nil {
			return c, err
		}
	}
	if b.Volume != "" {
		if c.Volume, err = strconv.ParseFloat(b.Volume, 64); err != nil {
			return c, err
		}
	}
	return c, c.Validate()
}

func unquote(msg json.RawMessage) string {
	var s string
	if err := sonic.Unmarshal(msg, &s); err != nil {
		return string(msg)
	}
	return s
}

func (c *Client) cachePath(symbol, interval string) string {
	name := strings.NewReplacer("^", "", "/", "_", ".", "_").Replace(symbol)
	return filepath.Join(c.cacheDir, fmt.Sprintf("%s_%s.json", name, interval))
}

func (c *Client) readCache(symbol, interval string) ([]models.Candle, error) {
	data, err := os.ReadFile(c.cachePath(symbol, interval))
	if err != nil {
		return nil, err
	}
	var candles []models.Candle
	if err := sonic.Unmarshal(data, &candles); err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, ErrEmptySeries
	}
	return candles, nil
}

func (c *Client) writeCache(symbol, interval string, candles []models.Candle) error {
	data, err := sonic.ConfigStd.MarshalIndent(candles, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.cachePath(symbol, interval), data, 0o644)
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, urlStr string) ([]byte, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * c.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
