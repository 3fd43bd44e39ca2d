// Package fetcher implements host.Fetcher with a circuit breaker, retry
// ladder and transparent response decompression.
package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/avalon-stream/hlsplay/internal/host"
)

const (
	DefaultTimeout             = 10 * time.Second
	DefaultRetryAttempts       = 3
	DefaultRetryDelay          = 1 * time.Second
	DefaultRetryMaxDelay       = 10 * time.Second
	DefaultBackoffMultiplier   = 2.0
	DefaultCircuitThreshold    = 5
	DefaultCircuitTimeout      = 30 * time.Second
	DefaultCircuitHalfOpenMax  = 2
	DefaultMaxResponseSize     = 64 << 20 // 64MiB; comfortably above any single segment/playlist.
	headerAcceptEncoding       = "Accept-Encoding"
	headerContentEncoding      = "Content-Encoding"
	defaultAcceptEncodingValue = "gzip, deflate, br"
)

// Config tunes the resilient HTTP client backing a Fetcher.
type Config struct {
	Timeout             time.Duration
	RetryAttempts       int
	RetryDelay          time.Duration
	RetryMaxDelay       time.Duration
	BackoffMultiplier   float64
	CircuitThreshold    int
	CircuitTimeout      time.Duration
	CircuitHalfOpenMax  int
	UserAgent           string
	EnableDecompression bool
	MaxResponseSize     int64
	Logger              *slog.Logger
}

// DefaultConfig returns a Config built from the Default* constants above.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		BackoffMultiplier:   DefaultBackoffMultiplier,
		CircuitThreshold:    DefaultCircuitThreshold,
		CircuitTimeout:      DefaultCircuitTimeout,
		CircuitHalfOpenMax:  DefaultCircuitHalfOpenMax,
		UserAgent:           "hlsplay/1.0",
		EnableDecompression: true,
		MaxResponseSize:     DefaultMaxResponseSize,
		Logger:              slog.Default(),
	}
}

// Fetcher implements host.Fetcher: Fetch returns immediately with a
// RequestID and the outcome is reported later to the EngineSink it was
// constructed with, via OnRequestSucceeded/OnRequestFailed.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	breaker *circuitBreaker
	sink    host.EngineSink
	logger  *slog.Logger

	mu      sync.Mutex
	cancels map[host.RequestID]context.CancelFunc
	nextID  uint64
}

// New builds a Fetcher that reports results to sink.
func New(sink host.EngineSink, cfg Config) *Fetcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: 0, // per-request deadline is applied via context instead.
		},
		breaker: newCircuitBreaker(circuitBreakerConfig{
			FailureThreshold: cfg.CircuitThreshold,
			SuccessThreshold: cfg.CircuitHalfOpenMax,
			Timeout:          cfg.CircuitTimeout,
		}),
		sink:    sink,
		logger:  logger,
		cancels: make(map[host.RequestID]context.CancelFunc),
	}
}

// CircuitState reports the breaker's current state, for status surfaces.
func (f *Fetcher) CircuitState() CircuitState {
	return f.breaker.State()
}

// Fetch implements host.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, url string, byteRange *host.ByteRange, timeout time.Duration) host.RequestID {
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	id := f.newRequestID()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	f.mu.Lock()
	f.cancels[id] = cancel
	f.mu.Unlock()

	go f.run(reqCtx, cancel, id, url, byteRange)

	return id
}

// Abort implements host.Fetcher: fire-and-forget, no further callback
// fires for id once this returns.
func (f *Fetcher) Abort(id host.RequestID) {
	f.mu.Lock()
	cancel, ok := f.cancels[id]
	delete(f.cancels, id)
	f.mu.Unlock()
	if ok {
		cancel()
	}
}

func (f *Fetcher) newRequestID() host.RequestID {
	n := atomic.AddUint64(&f.nextID, 1)
	return host.RequestID(fmt.Sprintf("req-%d", n))
}

func (f *Fetcher) forget(id host.RequestID) {
	f.mu.Lock()
	delete(f.cancels, id)
	f.mu.Unlock()
}

// run drives the retry ladder and circuit breaker, then reports exactly
// one outcome to the sink (unless the request was aborted, in which case
// the context is already done and we report nothing).
func (f *Fetcher) run(ctx context.Context, cancel context.CancelFunc, id host.RequestID, url string, byteRange *host.ByteRange) {
	defer cancel()
	defer f.forget(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		f.reportFailed(ctx, id, false, nil)
		return
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	if byteRange != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", byteRange.Offset, byteRange.Offset+byteRange.Length-1))
	}
	if f.cfg.EnableDecompression {
		req.Header.Set(headerAcceptEncoding, defaultAcceptEncodingValue)
	}

	delay := f.cfg.RetryDelay
	attempts := f.cfg.RetryAttempts
	if attempts < 0 {
		attempts = 0
	}

	var lastStatus *int
	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				f.reportFailed(ctx, id, true, lastStatus)
				return
			case <-time.After(jitter(delay)):
			}
			delay = time.Duration(float64(delay) * f.cfg.BackoffMultiplier)
			if delay > f.cfg.RetryMaxDelay {
				delay = f.cfg.RetryMaxDelay
			}
		}

		if !f.breaker.Allow() {
			f.logger.Warn("circuit breaker open, skipping fetch",
				slog.String("url", url), slog.String("state", f.breaker.State().String()))
			continue
		}

		start := time.Now()
		resp, err := f.client.Do(req)
		duration := time.Since(start)

		if err != nil {
			f.breaker.RecordFailure()
			if ctx.Err() != nil {
				f.reportFailed(ctx, id, true, nil)
				return
			}
			f.logger.Warn("fetch failed", slog.String("url", url), slog.Duration("duration", duration), slog.String("error", err.Error()))
			continue
		}

		status := resp.StatusCode
		lastStatus = &status

		if isRetryableStatus(status) {
			f.breaker.RecordFailure()
			resp.Body.Close()
			f.logger.Warn("retryable status", slog.String("url", url), slog.Int("status", status))
			continue
		}

		if status >= 200 && status < 400 {
			f.breaker.RecordSuccess()
		} else {
			f.breaker.RecordFailure()
			resp.Body.Close()
			f.reportFailed(ctx, id, false, &status)
			return
		}

		body := resp.Body
		if f.cfg.EnableDecompression {
			body = f.wrapDecompression(resp)
		}
		if f.cfg.MaxResponseSize > 0 {
			body = newLimitedReadCloser(body, f.cfg.MaxResponseSize)
		}

		blob, readErr := io.ReadAll(body)
		body.Close()
		if readErr != nil {
			f.reportFailed(ctx, id, false, &status)
			return
		}

		f.mu.Lock()
		_, live := f.cancels[id]
		f.mu.Unlock()
		if live {
			f.sink.OnRequestSucceeded(id, blob, resp.Request.URL.String(), int64(len(blob)), float64(duration.Milliseconds()))
		}
		return
	}

	f.reportFailed(ctx, id, false, lastStatus)
}

func (f *Fetcher) reportFailed(ctx context.Context, id host.RequestID, timedOutHint bool, status *int) {
	f.mu.Lock()
	_, live := f.cancels[id]
	f.mu.Unlock()
	if !live {
		return // aborted: Abort already removed id, and nothing is reported after it.
	}
	timedOut := timedOutHint || ctx.Err() != nil
	f.sink.OnRequestFailed(id, timedOut, status)
}

func (f *Fetcher) wrapDecompression(resp *http.Response) io.ReadCloser {
	switch resp.Header.Get(headerContentEncoding) {
	case "gzip":
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			f.logger.Warn("failed to create gzip reader, returning raw body", slog.String("error", err.Error()))
			return resp.Body
		}
		return &decompressReader{Reader: r, underlying: resp.Body}
	case "deflate":
		r := flate.NewReader(resp.Body)
		return &decompressReader{Reader: r, underlying: resp.Body}
	case "br":
		r := brotli.NewReader(resp.Body)
		return &decompressReader{Reader: io.NopCloser(r), underlying: resp.Body}
	default:
		return resp.Body
	}
}

// decompressReader closes both the decompressing reader and the
// underlying network body.
type decompressReader struct {
	Reader     io.ReadCloser
	underlying io.ReadCloser
}

func (d *decompressReader) Read(p []byte) (int, error) { return d.Reader.Read(p) }

func (d *decompressReader) Close() error {
	err := d.Reader.Close()
	if uerr := d.underlying.Close(); err == nil {
		err = uerr
	}
	return err
}

// limitedReadCloser caps how many bytes can be read, guarding against a
// small compressed payload expanding into a memory-exhausting blob.
type limitedReadCloser struct {
	r         io.ReadCloser
	remaining int64
}

func newLimitedReadCloser(r io.ReadCloser, limit int64) *limitedReadCloser {
	return &limitedReadCloser{r: r, remaining: limit}
}

func (l *limitedReadCloser) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, fmt.Errorf("response exceeds max size limit")
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}

func (l *limitedReadCloser) Close() error { return l.r.Close() }

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// jitter adds up to 20% random variance to a retry delay so concurrent
// segment/playlist retries from the same lane don't all land in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*0.2*float64(d))
}
