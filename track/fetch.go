package track

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const (
	// DefaultFetchTimeout bounds a single frame request
	DefaultFetchTimeout = 10 * time.Second

	// DefaultFetchRetries is the number of attempts per frame
	DefaultFetchRetries = 3

	// DefaultPollInterval is how often a frame source is polled
	DefaultPollInterval = time.Second

	defaultBaseBackoff = 200 * time.Millisecond

	// Frames larger than this are rejected
	maxFrameBytes = 64 << 20
)

// FetchOption configures FetchFrame
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultFetchRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithFetchTimeout sets the per-request timeout
func WithFetchTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) { c.timeout = d }
}

// WithMaxRetries sets the number of attempts. Values below 1 mean one attempt.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) { c.maxRetries = n }
}

// WithBaseBackoff sets the delay before the first retry; it doubles per retry
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) { c.baseBackoff = d }
}

// WithHTTPClient overrides the default HTTP client
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) { c.client = client }
}

// FetchFrame downloads one frame from url, in either wire format DecodeFrame
// accepts. Network errors and non-200 responses are retried with exponential
// backoff; a body that does not decode is returned immediately.
func FetchFrame(ctx context.Context, url string, opts ...FetchOption) (*Frame, error) {
	if url == "" {
		return nil, fmt.Errorf("fetch frame: source URL is empty")
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxRetries < 1 {
		cfg.maxRetries = 1
	}
	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	var lastErr error
	backoff := cfg.baseBackoff
	for attempt := 0; attempt < cfg.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch frame: %w", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		body, err := doFetch(ctx, client, url)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fetch frame: %w", ctx.Err())
			}
			continue
		}

		frame, err := DecodeFrame(body)
		if err != nil {
			return nil, fmt.Errorf("fetch frame: %w", err)
		}
		return frame, nil
	}
	return nil, fmt.Errorf("fetch frame: all %d attempts failed: %w", cfg.maxRetries, lastErr)
}

func doFetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}
	return body, nil
}

// PollFrames fetches a frame from url every interval and hands it to handler,
// the same callback shape the MQTT subscription uses. It returns when ctx ends.
func PollFrames(ctx context.Context, url string, interval time.Duration, handler FrameHandler, opts ...FetchOption) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[FETCH] Polling %s every %v", url, interval)
	for {
		frame, err := FetchFrame(ctx, url, opts...)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("[FETCH] %v", err)
		}
		handler(nil, frame, err)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
