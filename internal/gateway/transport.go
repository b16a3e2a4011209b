package gateway

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"sorobancli/internal/gateway/retry"

	"go.uber.org/zap"
)

type clientOptions struct {
	timeout  time.Duration
	strategy retry.Strategy
	base     http.RoundTripper
	logger   *zap.Logger
}

// ClientOption configures the HTTP client used to reach the RPC service
type ClientOption func(*clientOptions)

// WithTimeout bounds each HTTP request
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

// WithRetry retries transport-level failures with the given strategy
func WithRetry(s retry.Strategy) ClientOption {
	return func(o *clientOptions) { o.strategy = s }
}

// WithRoundTripper replaces the underlying transport
func WithRoundTripper(rt http.RoundTripper) ClientOption {
	return func(o *clientOptions) { o.base = rt }
}

// WithLogger sets the logger used for transport diagnostics
func WithLogger(l *zap.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// NewHTTPClient builds the HTTP client shared by both dialects
func NewHTTPClient(opts ...ClientOption) *http.Client {
	o := clientOptions{
		timeout:  30 * time.Second,
		strategy: retry.NewNoRetryStrategy(),
		base:     http.DefaultTransport,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &http.Client{
		Timeout: o.timeout,
		Transport: &retryTransport{
			base:     o.base,
			strategy: o.strategy,
			logger:   o.logger,
		},
	}
}

// retryTransport re-sends a request only when no response was received.
// HTTP status codes are never retried here.
type retryTransport struct {
	base     http.RoundTripper
	strategy retry.Strategy
	logger   *zap.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	attempt := 0

	err := t.strategy.Execute(req.Context(), func() error {
		attempt++
		r := req
		if attempt > 1 {
			if req.Body != nil && req.GetBody == nil {
				return fmt.Errorf("request body cannot be replayed")
			}
			r = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return err
				}
				r.Body = body
			}
		}

		var err error
		resp, err = t.base.RoundTrip(r)
		if err != nil {
			t.logger.Debug("RPC transport error",
				zap.String("url", req.URL.Redacted()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// failureLog counts HTTP exchanges that produced no usable JSON-RPC body:
// transport errors, non-200 statuses and truncated reads. The JSON-RPC
// client reports those as error objects of its own, so a gateway checks the
// log before trusting an error object to have come from the server.
type failureLog struct {
	mu   sync.Mutex
	seq  uint64
	last error
}

func (l *failureLog) record(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.last = err
}

func (l *failureLog) mark() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// since returns the latest failure recorded after mark, or nil
func (l *failureLog) since(mark uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seq == mark {
		return nil
	}
	return l.last
}

type recordingTransport struct {
	base     http.RoundTripper
	failures *failureLog
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.failures.record(err)
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		t.failures.record(fmt.Errorf("unexpected HTTP status %s", resp.Status))
		return resp, nil
	}
	resp.Body = &recordingBody{ReadCloser: resp.Body, failures: t.failures}
	return resp, nil
}

type recordingBody struct {
	io.ReadCloser
	failures *failureLog
}

func (b *recordingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		b.failures.record(err)
	}
	return n, err
}

// withFailureLog returns a copy of c whose exchanges are recorded in a fresh log
func withFailureLog(c *http.Client) (*http.Client, *failureLog) {
	if c == nil {
		c = NewHTTPClient()
	}
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	failures := &failureLog{}
	recorded := *c
	recorded.Transport = &recordingTransport{base: base, failures: failures}
	return &recorded, failures
}
