// Package backend is the console's client for the ProductX REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/productx/backoffice/internal/domain"
	"github.com/productx/backoffice/internal/pkg"
)

const maxResponseBytes = 10 << 20

// RetryConfig controls retries of transient failures.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// IdempotentOnly restricts retries to GET, PUT and DELETE. POST
	// mutations are then attempted once.
	IdempotentOnly bool
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// Timeout bounds a single attempt.
	Timeout   time.Duration
	Retry     RetryConfig
	Breaker   BreakerConfig
	RateLimit float64
	Burst     int
	// SuccessCodes are the envelope codes treated as success. Defaults to 0 and 200.
	SuccessCodes []int64
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenSource sets the bearer token source.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client calls the backend with retry, rate limiting and a circuit breaker.
// It is safe for concurrent use.
type Client struct {
	base         *url.URL
	http         *http.Client
	timeout      time.Duration
	retry        RetryConfig
	breaker      *Breaker
	limiter      *rate.Limiter
	tokens       TokenSource
	logger       *slog.Logger
	successCodes []int64
}

// New creates a Client for cfg.BaseURL.
func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: invalid base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend: invalid base url %q: scheme must be http or https", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = 200 * time.Millisecond
	}
	if cfg.Retry.MaxInterval <= 0 {
		cfg.Retry.MaxInterval = 2 * time.Second
	}
	if cfg.Retry.Multiplier <= 0 {
		cfg.Retry.Multiplier = 2
	}
	if len(cfg.SuccessCodes) == 0 {
		cfg.SuccessCodes = []int64{0, 200}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = int(cfg.RateLimit)
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(burst, 1))
	}

	c := &Client{
		base:         base,
		http:         &http.Client{},
		timeout:      cfg.Timeout,
		retry:        cfg.Retry,
		breaker:      NewBreaker(cfg.Breaker),
		limiter:      limiter,
		logger:       slog.Default(),
		successCodes: cfg.SuccessCodes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Breaker exposes the client's circuit breaker for health reporting.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// Call describes one JSON request.
type Call struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Do performs call and returns the decoded envelope. Transient failures are
// retried with exponential backoff; everything else fails immediately.
// Errors are *domain.AppError values, except for cancellation by ctx, which
// is returned as ctx.Err() wrapped.
func (c *Client) Do(ctx context.Context, call Call) (Envelope, error) {
	var body []byte
	if call.Body != nil {
		var err error
		if body, err = json.Marshal(call.Body); err != nil {
			return Envelope{}, domain.NewAppError(domain.CodeInternal, "encode request body", err)
		}
	}

	reqURL := c.resolve(call.Path, call.Query)
	canRetry := !c.retry.IdempotentOnly || isIdempotent(call.Method)
	attempts := 1
	if canRetry {
		attempts = c.retry.MaxAttempts
	}

	var env Envelope
	attempt := 0
	op := func() error {
		attempt++
		var err error
		env, err = c.once(ctx, call.Method, reqURL, body)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !domain.IsUnavailable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.DebugContext(ctx, "backend: retrying",
			slog.String("method", call.Method),
			slog.String("path", call.Path),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(attempts-1)), ctx), notify)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Envelope{}, fmt.Errorf("%s %s: %w", call.Method, call.Path, ctxErr)
		}
		c.logger.WarnContext(ctx, "backend: request failed",
			slog.String("method", call.Method),
			slog.String("path", call.Path),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)
		return Envelope{}, err
	}
	return env, nil
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.MaxInterval = c.retry.MaxInterval
	b.Multiplier = c.retry.Multiplier
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// once performs a single attempt.
func (c *Client) once(ctx context.Context, method, reqURL string, body []byte) (Envelope, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	contentType := ""
	if body != nil {
		contentType = "application/json"
	}

	resp, release, err := c.send(ctx, method, reqURL, reader, contentType)
	if err != nil {
		return Envelope{}, err
	}
	defer release()
	return c.readEnvelope(method, reqURL, resp)
}

// send issues one request through the limiter and breaker. The returned
// release func must be called once the body has been consumed.
func (c *Client) send(ctx context.Context, method, reqURL string, body io.Reader, contentType string) (*http.Response, func(), error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, domain.NewAppError(domain.CodeUnavailable, "rate limit wait exceeds deadline", err)
	}
	if !c.breaker.Allow() {
		return nil, nil, domain.NewAppError(domain.CodeUnavailable, "backend circuit open", nil)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(attemptCtx, method, reqURL, body)
	if err != nil {
		cancel()
		c.breaker.Release()
		return nil, nil, domain.NewAppError(domain.CodeInternal, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if id := pkg.RequestIDFrom(ctx); id != "" {
		req.Header.Set("X-Request-ID", sanitizeHeader(id))
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			cancel()
			c.breaker.Release()
			return nil, nil, domain.NewAppError(domain.CodeInternal, "obtain backend token", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+sanitizeHeader(token))
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			c.breaker.Release()
			return nil, nil, ctx.Err()
		}
		c.breaker.Failure()
		return nil, nil, domain.NewAppError(domain.CodeUnavailable, describeTransportError(err), err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		c.breaker.Failure()
	default:
		c.breaker.Success()
	}
	return resp, func() { resp.Body.Close(); cancel() }, nil
}

func (c *Client) readEnvelope(method, reqURL string, resp *http.Response) (Envelope, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Envelope{}, domain.NewAppError(domain.CodeUnavailable, "read response", err)
	}

	env, decodeErr := decodeEnvelope(raw)
	if err := classifyStatus(resp.StatusCode, env); err != nil {
		return Envelope{}, err
	}
	if decodeErr != nil {
		return Envelope{}, domain.NewAppError(domain.CodeInternal, fmt.Sprintf("decode %s %s response", method, redactURL(reqURL)), decodeErr)
	}
	if !env.succeeded(c.successCodes) {
		return Envelope{}, domain.NewAppError(domain.CodeRejected, env.message("request rejected"), nil)
	}
	return env, nil
}

// classifyStatus maps a non-2xx HTTP status to an error.
func classifyStatus(status int, env Envelope) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewAppError(domain.CodeForbidden, env.message("permission denied"), nil)
	case status == http.StatusNotFound:
		return domain.NewAppError(domain.CodeNotFound, env.message("not found"), nil)
	case status == http.StatusConflict:
		return domain.NewAppError(domain.CodeAlreadyExists, env.message("already exists"), nil)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return domain.NewAppError(domain.CodeValidation, env.message("invalid request"), nil)
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.NewAppError(domain.CodeUnavailable, fmt.Sprintf("backend answered %d", status), nil)
	default:
		return domain.NewAppError(domain.CodeRejected, env.message(fmt.Sprintf("backend answered %d", status)), nil)
	}
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.base
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		if parsed, err := url.Parse(path); err == nil {
			u = *parsed
		}
	} else {
		p, rawQuery, _ := strings.Cut(path, "?")
		u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(p, "/")
		if rawQuery != "" {
			if extra, err := url.ParseQuery(rawQuery); err == nil {
				for k, v := range query {
					extra[k] = v
				}
				query = extra
			}
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

func describeTransportError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "backend timed out"
	}
	return "backend unreachable"
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}
