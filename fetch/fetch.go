// Package fetch retrieves provider payloads from sets of equivalent URLs,
// retrying only the URLs that have not yet produced a valid response.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const maxBodySize = 8 * 1024 * 1024

// DefaultErrorMarkers are provider bodies that come back with content but are not payloads
var DefaultErrorMarkers = []string{
	"notAllowed",
	"not allowed",
	"access denied",
	"<title>502 Bad Gateway",
	"<title>503 Service",
	"<title>504 Gateway",
}

var ErrNoValidResponse = errors.New("fetch: no valid response")

// IncompleteError reports the URLs that never validated within the try budget
type IncompleteError struct {
	Missing []string
	Tries   int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("fetch: %d url(s) invalid after %d tries", len(e.Missing), e.Tries)
}

// Response is one valid answer for a URL
type Response struct {
	URL    string
	Status int
	Body   []byte
	Try    int
}

// Batch holds the valid responses of a FetchFirstValid call, keyed by URL
type Batch struct {
	URLs      []string
	Responses map[string]*Response
}

// FirstValid returns the first valid response in URL order, or nil
func (b *Batch) FirstValid() *Response {
	if b == nil {
		return nil
	}
	for _, u := range b.URLs {
		if r, ok := b.Responses[u]; ok {
			return r
		}
	}
	return nil
}

func (b *Batch) Complete() bool {
	return b != nil && len(b.Responses) == len(b.URLs)
}

// Observer receives one call per HTTP attempt
type Observer interface {
	ObserveFetch(valid bool, elapsed time.Duration)
}

type Fetcher struct {
	client   *http.Client
	limiter  *rate.Limiter
	markers  []string
	log      *zap.Logger
	observer Observer
	jitter   func(time.Duration) time.Duration
}

type Option func(*Fetcher)

// WithRateLimit caps outbound requests per second; rps <= 0 disables the limiter
func WithRateLimit(rps float64, burst int) Option {
	return func(f *Fetcher) {
		if rps <= 0 {
			f.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithErrorMarkers(markers []string) Option {
	return func(f *Fetcher) {
		if len(markers) > 0 {
			f.markers = markers
		}
	}
}

func WithObserver(o Observer) Option {
	return func(f *Fetcher) {
		f.observer = o
	}
}

// WithJitter replaces the ±50% delay jitter
func WithJitter(fn func(time.Duration) time.Duration) Option {
	return func(f *Fetcher) {
		f.jitter = fn
	}
}

func New(client *http.Client, log *zap.Logger, opts ...Option) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	f := &Fetcher{
		client:  client,
		markers: DefaultErrorMarkers,
		log:     log,
		jitter:  halfJitter,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchFirstValid requests every URL until each has answered validly once.
// A URL that validated on an earlier try is never requested again.
// When some URLs never validate, the returned Batch still carries the responses
// that did, and the error is an *IncompleteError (or the context error).
func (f *Fetcher) FetchFirstValid(ctx context.Context, urls []string, maxTries int, delay time.Duration) (*Batch, error) {
	urls = dedupe(urls)
	batch := &Batch{URLs: urls, Responses: make(map[string]*Response, len(urls))}
	if len(urls) == 0 {
		return batch, &IncompleteError{Tries: 0}
	}
	if maxTries < 1 {
		maxTries = 1
	}

	pending := urls
	for try := 1; try <= maxTries; try++ {
		if try > 1 {
			if err := f.sleep(ctx, delay); err != nil {
				return batch, err
			}
		}

		results := f.tryAll(ctx, pending, try)

		var remaining []string
		for i, u := range pending {
			if results[i] != nil {
				batch.Responses[u] = results[i]
			} else {
				remaining = append(remaining, u)
			}
		}
		pending = remaining
		if len(pending) == 0 {
			return batch, nil
		}
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		f.log.Debug("fetch try incomplete",
			zap.Int("try", try),
			zap.Int("max_tries", maxTries),
			zap.Strings("pending", pending),
		)
	}

	return batch, &IncompleteError{Missing: pending, Tries: maxTries}
}

// FetchFirstValidOf returns as soon as any of the equivalent URLs validates,
// preferring earlier URLs when several validate on the same try.
func (f *Fetcher) FetchFirstValidOf(ctx context.Context, urls []string, maxTries int, delay time.Duration) (*Response, error) {
	urls = dedupe(urls)
	if len(urls) == 0 {
		return nil, ErrNoValidResponse
	}
	if maxTries < 1 {
		maxTries = 1
	}

	for try := 1; try <= maxTries; try++ {
		if try > 1 {
			if err := f.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		for _, r := range f.tryAll(ctx, urls, try) {
			if r != nil {
				return r, nil
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %d url(s), %d tries", ErrNoValidResponse, len(urls), maxTries)
}

// tryAll issues one request per URL concurrently and joins. Invalid slots are nil.
func (f *Fetcher) tryAll(ctx context.Context, urls []string, try int) []*Response {
	results := make([]*Response, len(urls))
	var g errgroup.Group
	for i, u := range urls {
		g.Go(func() error {
			r, err := f.get(ctx, u)
			if err != nil {
				f.log.Debug("fetch attempt failed", zap.String("url", u), zap.Int("try", try), zap.Error(err))
				return nil
			}
			r.Try = try
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := f.do(ctx, rawURL)
	if f.observer != nil {
		f.observer.ObserveFetch(err == nil, time.Since(start))
	}
	return resp, err
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := f.validate(body); err != nil {
		return nil, err
	}

	return &Response{URL: rawURL, Status: resp.StatusCode, Body: body}, nil
}

func (f *Fetcher) validate(body []byte) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("empty body")
	}
	lower := strings.ToLower(string(body))
	for _, m := range f.markers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return fmt.Errorf("provider error marker %q", m)
		}
	}
	return nil
}

func (f *Fetcher) sleep(ctx context.Context, delay time.Duration) error {
	d := f.jitter(delay)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// halfJitter returns a duration uniformly within [d/2, 3d/2)
func halfJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
