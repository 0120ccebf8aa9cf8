// Package fetcher retrieves and parses feeds over HTTP.
//
// Fetcher is the only component that touches the network. The scheduler
// calls it; the filesystem never does.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marmos91/feedfs/internal/logger"
	"github.com/marmos91/feedfs/internal/ratelimiter"
	"github.com/marmos91/feedfs/pkg/feed"
	"github.com/mmcdole/gofeed"
)

// Fetcher turns a feed URL into a parsed feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*feed.Parsed, error)
}

// Config holds HTTP fetch behaviour.
type Config struct {
	// Timeout bounds one HTTP attempt, body included.
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// RetryAttempts is the number of retries after the first attempt for
	// transient failures (network errors, 5xx, 429).
	RetryAttempts int

	// RetryDelay is the base of the linear backoff: attempt n waits n*RetryDelay.
	RetryDelay time.Duration

	// MaxFeedSize caps the response body in bytes. Zero means unlimited.
	MaxFeedSize int64
}

// DefaultConfig returns the fetch defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		UserAgent:     "feedfs/1.0 (+https://github.com/marmos91/feedfs)",
		RetryAttempts: 2,
		RetryDelay:    time.Second,
		MaxFeedSize:   10 << 20,
	}
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// ErrTooLarge is returned when a response exceeds MaxFeedSize.
var ErrTooLarge = errors.New("feed exceeds maximum size")

// HTTPFetcher fetches feeds with net/http and parses them with gofeed.
// RSS, Atom and JSON Feed are recognised.
type HTTPFetcher struct {
	client  *http.Client
	limiter *ratelimiter.RateLimiter
	cfg     Config
}

var _ Fetcher = (*HTTPFetcher)(nil)

// New creates an HTTPFetcher. A nil limiter disables rate limiting.
func New(cfg Config, limiter *ratelimiter.RateLimiter) *HTTPFetcher {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}

	return &HTTPFetcher{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		cfg:     cfg,
	}
}

// Fetch downloads and parses url, retrying transient failures.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*feed.Parsed, error) {
	var lastErr error

	for attempt := 0; attempt <= f.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * f.cfg.RetryDelay
			logger.Debug("Retrying %s in %v (attempt %d/%d): %v", url, delay, attempt+1, f.cfg.RetryAttempts+1, lastErr)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		body, err := f.download(ctx, url)
		if err == nil {
			return parse(body)
		}
		if !retryable(ctx, err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("giving up after %d attempts: %w", f.cfg.RetryAttempts+1, lastErr)
}

func (f *HTTPFetcher) download(ctx context.Context, url string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	var reader io.Reader = resp.Body
	if f.cfg.MaxFeedSize > 0 {
		reader = io.LimitReader(resp.Body, f.cfg.MaxFeedSize+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if f.cfg.MaxFeedSize > 0 && int64(len(body)) > f.cfg.MaxFeedSize {
		return nil, fmt.Errorf("%s: %w (%d bytes)", url, ErrTooLarge, f.cfg.MaxFeedSize)
	}
	return body, nil
}

// retryable reports whether err is worth another attempt.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	if errors.Is(err, ErrTooLarge) {
		return false
	}
	return true
}

// parse converts a feed document into the domain representation.
func parse(body []byte) (*feed.Parsed, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return Convert(parsed), nil
}

// Convert maps a gofeed document to feed.Parsed.
func Convert(src *gofeed.Feed) *feed.Parsed {
	out := &feed.Parsed{
		Title:       strings.TrimSpace(src.Title),
		Description: src.Description,
		Link:        src.Link,
		Items:       make([]feed.Item, 0, len(src.Items)),
	}

	for _, it := range src.Items {
		if it == nil {
			continue
		}
		item := feed.Item{
			GUID:        it.GUID,
			Title:       it.Title,
			Link:        it.Link,
			Description: it.Description,
			Content:     it.Content,
			Tags:        append([]string(nil), it.Categories...),
			Author:      authorOf(it),
		}
		if it.PublishedParsed != nil {
			item.Published = it.PublishedParsed.UTC()
		}
		if it.UpdatedParsed != nil {
			item.Updated = it.UpdatedParsed.UTC()
		}
		out.Items = append(out.Items, item)
	}
	return out
}

func authorOf(it *gofeed.Item) string {
	if len(it.Authors) > 0 && it.Authors[0] != nil {
		return it.Authors[0].Name
	}
	if it.Author != nil {
		return it.Author.Name
	}
	return ""
}
