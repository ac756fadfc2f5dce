package ecommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/erp/woosync/internal/domain/integration"
	"github.com/erp/woosync/internal/infrastructure/telemetry"
)

// WooCommerceClient is the HTTP request layer for the WooCommerce REST API.
// It authenticates every attempt, retries 429/5xx/timeouts with exponential
// backoff and classifies the final result.
type WooCommerceClient struct {
	config     *WooCommerceConfig
	baseURL    string
	userAgents *UserAgentSource
	logger     *zap.Logger
	metrics    *telemetry.SyncMetrics
	transport  http.RoundTripper
	backoff    retryablehttp.Backoff
	http       *retryablehttp.Client
}

// ClientOption is a functional option for configuring WooCommerceClient
type ClientOption func(*WooCommerceClient)

// WithClientLogger sets the logger
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *WooCommerceClient) {
		c.logger = logger
	}
}

// WithClientMetrics sets the metrics sink
func WithClientMetrics(m *telemetry.SyncMetrics) ClientOption {
	return func(c *WooCommerceClient) {
		c.metrics = m
	}
}

// WithTransport replaces the underlying round tripper
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *WooCommerceClient) {
		c.transport = rt
	}
}

// WithBackoff replaces the backoff schedule
func WithBackoff(b retryablehttp.Backoff) ClientOption {
	return func(c *WooCommerceClient) {
		c.backoff = b
	}
}

// Ensure WooCommerceClient implements the RemoteAPI port
var _ integration.RemoteAPI = (*WooCommerceClient)(nil)

// NewWooCommerceClient validates cfg and builds a client. A configuration
// error here is the only failure allowed to stop a run before it starts.
func NewWooCommerceClient(cfg *WooCommerceConfig, opts ...ClientOption) (*WooCommerceClient, error) {
	if cfg == nil {
		return nil, integration.ErrPlatformNotConfigured
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &WooCommerceClient{
		config:     cfg,
		baseURL:    cfg.BaseURL(),
		userAgents: NewUserAgentSource(cfg.UserAgent),
		logger:     zap.NewNop(),
		transport:  http.DefaultTransport,
		backoff:    ExponentialBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}

	transport := c.transport
	if cfg.RateLimitQPS > 0 {
		transport = &rateLimitedTransport{
			base:    transport,
			limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitQPS), cfg.RateLimitBurst),
		}
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
	rc.RetryMax = cfg.MaxAttempts - 1
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.Backoff = c.backoff
	rc.CheckRetry = c.checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = c.prepareAttempt
	rc.Logger = retryLogger{s: c.logger.Sugar()}
	c.http = rc

	return c, nil
}

// BaseURL returns the API base the client targets
func (c *WooCommerceClient) BaseURL() string {
	return c.baseURL
}

// Execute performs one logical call. Retriable failures are retried up to
// MaxAttempts; the returned error is final and wraps a platform sentinel.
func (c *WooCommerceClient) Execute(ctx context.Context, req integration.APIRequest) (*integration.APIResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "woocommerce.request",
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute(telemetry.SpanAttrHTTPMethod, req.Method),
		telemetry.WithAttribute(telemetry.SpanAttrHTTPPath, req.Path),
	)
	defer span.End()

	started := time.Now()
	tracker := &attemptTracker{method: req.Method, path: req.Path}
	ctx = context.WithValue(ctx, attemptKey{}, tracker)

	endpoint := c.baseURL + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		endpoint += "?" + req.Query.Encode()
	}

	var body interface{}
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("woocommerce: failed to encode request body: %w", err)
		}
		body = data
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("woocommerce: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	c.metrics.ObserveHTTPDuration(req.Method, time.Since(started).Seconds())
	telemetry.SetAttributes(span, telemetry.SpanAttrAttempts, tracker.attempts)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("woocommerce: %s %s: %w", req.Method, req.Path, ctxErr)
		}
		apiErr := newTransportError(req.Method, req.Path, err, tracker.attempts)
		telemetry.RecordError(span, apiErr)
		return nil, apiErr
	}
	defer resp.Body.Close()

	telemetry.SetAttributes(span, telemetry.SpanAttrHTTPStatus, resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes))
	if err != nil {
		apiErr := newTransportError(req.Method, req.Path, fmt.Errorf("failed to read response: %w", err), tracker.attempts)
		telemetry.RecordError(span, apiErr)
		return nil, apiErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newStatusError(req.Method, req.Path, resp.StatusCode, data, tracker.attempts)
		telemetry.RecordError(span, apiErr)
		return nil, apiErr
	}

	return &integration.APIResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Ping checks that the API root answers. Used as a startup preflight.
func (c *WooCommerceClient) Ping(ctx context.Context) error {
	_, err := c.Execute(ctx, integration.APIRequest{Method: http.MethodGet, Path: ""})
	return err
}

// prepareAttempt runs before every attempt. Credentials and the user agent
// are set fresh each time.
func (c *WooCommerceClient) prepareAttempt(_ retryablehttp.Logger, req *http.Request, attempt int) {
	req.SetBasicAuth(c.config.ConsumerKey, c.config.ConsumerSecret)
	req.Header.Set("User-Agent", c.userAgents.Next())

	tracker, _ := req.Context().Value(attemptKey{}).(*attemptTracker)
	if tracker == nil {
		return
	}
	tracker.attempts = attempt + 1
	if attempt > 0 {
		c.logger.Warn("Retrying WooCommerce request",
			zap.String("method", tracker.method),
			zap.String("path", tracker.path),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.config.MaxAttempts),
		)
	}
}

// checkRetry retries 429, 5xx and network timeouts. Everything else,
// including a cancelled context, is final.
func (c *WooCommerceClient) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	method := ""
	if tracker, ok := ctx.Value(attemptKey{}).(*attemptTracker); ok {
		method = tracker.method
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if err != nil {
		c.metrics.ObserveHTTPAttempt(method, "error")
		return isTimeout(err), nil
	}

	c.metrics.ObserveHTTPAttempt(method, statusClass(resp.StatusCode))
	return IsRetriableStatus(resp.StatusCode), nil
}

// ExponentialBackoff waits min * 2^attempt, capped at max.
func ExponentialBackoff(min, max time.Duration, attemptNum int, _ *http.Response) time.Duration {
	wait := float64(min) * math.Pow(2, float64(attemptNum))
	if wait > float64(max) {
		return max
	}
	return time.Duration(wait)
}

func statusClass(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}

type attemptKey struct{}

type attemptTracker struct {
	method   string
	path     string
	attempts int
}

// rateLimitedTransport waits for a token before every round trip.
type rateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// retryLogger adapts zap to retryablehttp.LeveledLogger. The library's own
// error lines are demoted to warnings since the caller logs final failures.
type retryLogger struct {
	s *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) { l.s.Warnw(msg, keysAndValues...) }
func (l retryLogger) Info(msg string, keysAndValues ...interface{})  { l.s.Debugw(msg, keysAndValues...) }
func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) { l.s.Debugw(msg, keysAndValues...) }
func (l retryLogger) Warn(msg string, keysAndValues ...interface{})  { l.s.Warnw(msg, keysAndValues...) }
