// Package collyfetcher implements the page and image fetch wrappers using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

const (
	defaultPageTimeout  = 15 * time.Second
	defaultImageTimeout = 10 * time.Second
	// DefaultUserAgent mimics a desktop Chrome build.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Colly decompresses gzip itself, so only gzip is advertised.
var browserHeaders = http.Header{
	"Accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"},
	"Accept-Language":           {"en-US,en;q=0.5"},
	"Accept-Encoding":           {"gzip"},
	"Connection":                {"keep-alive"},
	"Upgrade-Insecure-Requests": {"1"},
}

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	PageTimeout  time.Duration
	ImageTimeout time.Duration
	// MaxBodyBytes caps response bodies. Zero keeps colly's default.
	MaxBodyBytes int
}

// Fetcher implements tryon.PageFetcher using the Colly collector.
// Page and image fetches each clone their own base collector. Clones share the
// base's http.Client, so its timeout is set once in New and never per fetch.
type Fetcher struct {
	cfg            Config
	pageCollector  *colly.Collector
	imageCollector *colly.Collector
	logger         *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchState is written by collector callbacks and read once Visit returns.
type fetchState struct {
	result tryon.FetchResult
	status int
	err    error
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = defaultPageTimeout
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = defaultImageTimeout
	}

	return &Fetcher{
		cfg:            cfg,
		pageCollector:  newBaseCollector(cfg, cfg.PageTimeout),
		imageCollector: newBaseCollector(cfg, cfg.ImageTimeout),
		logger:         logger.Named("fetcher"),
	}
}

func newBaseCollector(cfg Config, timeout time.Duration) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.Async(false),
		// Clones share the visited store; the same garment URL may be fetched many times.
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.UserAgent(cfg.UserAgent),
	}
	if cfg.MaxBodyBytes > 0 {
		opts = append(opts, colly.MaxBodySize(cfg.MaxBodyBytes))
	}
	c := colly.NewCollector(opts...)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(timeout)
	return c
}

// FetchPage retrieves a product page with browser-like headers.
func (f *Fetcher) FetchPage(ctx context.Context, url string) (tryon.FetchResult, error) {
	return f.fetch(ctx, "page", url, f.pageCollector, browserHeaders)
}

// FetchImage retrieves raw image bytes.
func (f *Fetcher) FetchImage(ctx context.Context, url string) (tryon.FetchResult, error) {
	return f.fetch(ctx, "image", url, f.imageCollector, nil)
}

func (f *Fetcher) fetch(
	ctx context.Context,
	kind, url string,
	base *colly.Collector,
	headers http.Header,
) (tryon.FetchResult, error) {
	start := time.Now()
	state := &fetchState{}
	collector := base.Clone()
	f.configureCollectorHooks(collector, headers, start, state)

	if err := f.runCollector(ctx, collector, url, state); err != nil {
		var fetchErr *tryon.FetchError
		if errors.As(err, &fetchErr) {
			f.logger.Warn("fetch failed",
				zap.String("kind", kind),
				zap.String("url", url),
				zap.String("category", string(fetchErr.Category)),
				zap.Int("status", fetchErr.StatusCode),
				zap.Error(fetchErr.Err),
			)
		}
		return tryon.FetchResult{}, err
	}
	f.logger.Debug("fetch complete",
		zap.String("kind", kind),
		zap.String("url", state.result.URL),
		zap.Int("status", state.result.StatusCode),
		zap.Int("bytes", len(state.result.Body)),
		zap.Duration("duration", state.result.Duration),
	)
	return state.result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	headers http.Header,
	start time.Time,
	state *fetchState,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.result = tryon.FetchResult{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Headers:     r.Headers.Clone(),
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			state.status = r.StatusCode
		}
		state.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, state *fetchState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return classify(url, 0, fmt.Errorf("colly fetch canceled: %w", ctx.Err()))
	case err := <-done:
		if err == nil {
			err = state.err
		}
		if err != nil {
			return classify(url, state.status, fmt.Errorf("colly visit failed: %w", err))
		}
		return nil
	}
}

// classify maps a failed fetch to a user-facing category.
func classify(url string, status int, err error) *tryon.FetchError {
	category := tryon.FetchTransportError
	switch {
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusTooManyRequests,
		status == http.StatusUnavailableForLegalReasons:
		category = tryon.FetchBlocked
	case status == http.StatusNotFound, status == http.StatusGone:
		category = tryon.FetchNotFound
	case isTimeout(err):
		category = tryon.FetchTimeout
	}
	return &tryon.FetchError{Category: category, URL: url, StatusCode: status, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
