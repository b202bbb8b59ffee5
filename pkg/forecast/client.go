// Package forecast fetches numerical forecasts from the upstream service,
// trimming each request to the minimal hour window that still covers the
// four target hours of the target date.
package forecast

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"kazeguide/pkg/cache"
	"kazeguide/pkg/config"
	"kazeguide/pkg/faults"
	"kazeguide/pkg/model"
)

// Result is one fetch outcome plus its bookkeeping.
type Result struct {
	Collection *model.ForecastCollection
	Warnings   []string
	Attempts   int
	CacheHit   bool
}

// Client fetches forecasts with retry, rate limiting, and a TTL cache front.
// Safe for concurrent use; workers block on the limiter, not on the cache.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	limiter     *rate.Limiter
	cache       *cache.Cache[string, *model.ForecastCollection]
	retries     int
	backoffBase time.Duration
	now         func() time.Time
}

// New creates a Client and registers its cache with the manager under
// "weather_forecasts".
func New(cfg config.ForecastConfig, mgr *cache.Manager) *Client {
	ttl := time.Duration(cfg.CacheTTL)
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	maxSize := cfg.CacheMaxSize
	if maxSize <= 0 {
		maxSize = 200
	}
	c := cache.New[string, *model.ForecastCollection](cache.Options{
		DefaultTTL: ttl,
		MaxSize:    maxSize,
	})
	if mgr != nil {
		mgr.Register(cache.NameWeatherForecasts, c)
	}

	rps := cfg.RateLimitPerSec
	if rps <= 0 {
		rps = 10
	}
	timeout := time.Duration(cfg.Timeout)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	backoff := time.Duration(cfg.BackoffBase)
	if backoff <= 0 {
		backoff = time.Second
	}
	minGap := time.Duration(cfg.MinInterval)
	if minGap <= 0 {
		minGap = 100 * time.Millisecond
	}
	// The stricter of the per-second budget and the minimum gap wins.
	limit := rate.Limit(rps)
	if every := rate.Every(minGap); every < limit {
		limit = every
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.Key,
		httpClient: &http.Client{Timeout: timeout},
		// Burst 1 turns the rate into an actual gap between requests.
		limiter:     rate.NewLimiter(limit, 1),
		cache:       c,
		retries:     retries,
		backoffBase: backoff,
		now:         time.Now,
	}
}

// SetClock replaces the client clock. Test hook.
func (cl *Client) SetClock(now func() time.Time) { cl.now = now }

// Cache exposes the forecast cache for stats inspection.
func (cl *Client) Cache() *cache.Cache[string, *model.ForecastCollection] { return cl.cache }

// Fetch returns forecasts covering the target hours of targetDate for the
// given coordinates.
func (cl *Client) Fetch(ctx context.Context, locationName string, lat, lon float64, targetDate time.Time) (*Result, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, faults.Errorf(faults.ValidationError, "forecast.fetch",
			"coordinates out of range: lat=%.4f lon=%.4f", lat, lon)
	}
	if cl.apiKey == "" {
		return nil, faults.Errorf(faults.MissingCredential, "forecast.fetch", "no API key configured")
	}

	now := cl.now().In(model.JST)
	hours := HourWindow(now, targetDate)
	if hours < 1 || hours > 168 {
		return nil, faults.Errorf(faults.ValidationError, "forecast.fetch", "hour window %d out of range 1..168", hours)
	}

	// Cache key is fixed before the retry loop starts.
	key := fmt.Sprintf("%.6f,%.6f,%s,%d", lat, lon, targetDate.In(model.JST).Format("2006-01-02"), hours)
	if col, ok := cl.cache.Get(key); ok {
		slog.Debug("Forecast: cache hit", "key", key)
		return &Result{Collection: col, CacheHit: true}, nil
	}

	body, attempts, err := cl.fetchWithRetry(ctx, lat, lon, hours)
	if err != nil {
		return &Result{Attempts: attempts}, err
	}

	col, warnings, err := ParseResponse(locationName, body)
	if err != nil {
		return &Result{Attempts: attempts, Warnings: warnings}, err
	}
	for _, w := range warnings {
		slog.Warn("Forecast: " + w)
	}

	col = FilterTargetHours(col, targetDate)
	cl.cache.Set(key, col)
	return &Result{Collection: col, Warnings: warnings, Attempts: attempts}, nil
}

// fetchWithRetry performs the HTTP call with up to cl.retries attempts.
// Only network errors, timeouts, and 5xx responses are retried.
func (cl *Client) fetchWithRetry(ctx context.Context, lat, lon float64, hours int) (body []byte, attempts int, err error) {
	var lastErr error
	for attempt := 1; attempt <= cl.retries; attempt++ {
		attempts = attempt

		if err := cl.limiter.Wait(ctx); err != nil {
			return nil, attempts, faults.New(faults.TimeoutError, "forecast.fetch", err)
		}

		body, retriable, reqErr := cl.doRequest(ctx, lat, lon, hours)
		if reqErr == nil {
			return body, attempts, nil
		}
		lastErr = reqErr
		if !retriable || attempt == cl.retries {
			break
		}

		// Exponential backoff: base, 2*base, ...
		delay := time.Duration(math.Pow(2, float64(attempt-1))) * cl.backoffBase
		slog.Warn("Forecast: request failed, retrying", "attempt", attempt, "delay", delay, "error", reqErr)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, attempts, faults.New(faults.TimeoutError, "forecast.fetch", ctx.Err())
		}
	}
	return nil, attempts, lastErr
}

func (cl *Client) doRequest(ctx context.Context, lat, lon float64, hours int) (body []byte, retriable bool, err error) {
	u, err := url.Parse(cl.baseURL)
	if err != nil {
		return nil, false, faults.New(faults.ConfigError, "forecast.fetch", err)
	}
	q := u.Query()
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lon", fmt.Sprintf("%.6f", lon))
	q.Set("hours", fmt.Sprintf("%d", hours))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, false, faults.New(faults.SystemError, "forecast.fetch", err)
	}
	req.Header.Set("X-API-Key", cl.apiKey)

	resp, err := cl.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, faults.New(faults.TimeoutError, "forecast.fetch", ctx.Err())
		}
		kind := faults.Classify(err)
		if kind != faults.TimeoutError {
			kind = faults.NetworkError
		}
		return nil, true, faults.New(kind, "forecast.fetch", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, faults.New(faults.NetworkError, "forecast.fetch", err)
		}
		return data, false, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, false, faults.Errorf(faults.MissingCredential, "forecast.fetch", "api_key_invalid: status 401")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, false, faults.Errorf(faults.RateLimitError, "forecast.fetch", "rate limit: status 429")
	case resp.StatusCode >= 500:
		return nil, true, faults.Errorf(faults.APIError, "forecast.fetch", "server_error: status %d", resp.StatusCode)
	default:
		// 403, 404, and other 4xx: not retriable.
		return nil, false, faults.Errorf(faults.APIError, "forecast.fetch", "http_error: status %d", resp.StatusCode)
	}
}
