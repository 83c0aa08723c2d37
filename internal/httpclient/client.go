package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"

	"shopetl/internal/metrics"
)

// ErrNoResponse is returned when every attempt failed without an HTTP response
// that could be handed to the caller.
var ErrNoResponse = errors.New("no response after retries")

// statuses retried by the transport layer before the local loop sees them
var transportRetryStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

type Options struct {
	Timeout          time.Duration // per request, default 60s
	MaxAttempts      int           // local attempts, default 3
	TransportRetries int           // retries inside resty, 0 disables
	RetryWaitTime    time.Duration // transport backoff base, default 2s
	RetryMaxWaitTime time.Duration // transport backoff cap, default 60s
	RateLimitWait    time.Duration // used when a 429 carries no Retry-After, default 60s
	ErrorWait        time.Duration // after an unexpected error, default 10s
	TransientStep    time.Duration // timeout/connection backoff is step*attempt, default 5s
	Throttle         time.Duration // after every non-429 response
	Sleeper          Sleeper
	Metrics          *metrics.Recorder
}

// DefaultOptions mirrors the production retry policy
func DefaultOptions() Options {
	return Options{
		Timeout:          60 * time.Second,
		MaxAttempts:      3,
		TransportRetries: 10,
		RetryWaitTime:    2 * time.Second,
		RetryMaxWaitTime: 60 * time.Second,
		RateLimitWait:    60 * time.Second,
		ErrorWait:        10 * time.Second,
		TransientStep:    5 * time.Second,
		Throttle:         time.Second,
		Sleeper:          RealSleeper,
	}
}

type Request struct {
	Method string
	URL    string
	Header map[string]string
	Query  url.Values
	Body   any // marshalled as JSON when set
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

type Client struct {
	rc   *resty.Client
	opts Options
}

func New(opts Options) *Client {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.RetryWaitTime <= 0 {
		opts.RetryWaitTime = def.RetryWaitTime
	}
	if opts.RetryMaxWaitTime <= 0 {
		opts.RetryMaxWaitTime = def.RetryMaxWaitTime
	}
	if opts.RateLimitWait <= 0 {
		opts.RateLimitWait = def.RateLimitWait
	}
	if opts.ErrorWait <= 0 {
		opts.ErrorWait = def.ErrorWait
	}
	if opts.TransientStep <= 0 {
		opts.TransientStep = def.TransientStep
	}
	if opts.Sleeper == nil {
		opts.Sleeper = RealSleeper
	}

	rc := resty.New()
	rc.SetTimeout(opts.Timeout)
	if opts.TransportRetries > 0 {
		rc.SetRetryCount(opts.TransportRetries).
			SetRetryWaitTime(opts.RetryWaitTime).
			SetRetryMaxWaitTime(opts.RetryMaxWaitTime).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return r != nil && transportRetryStatus[r.StatusCode()]
			})
	}

	return &Client{rc: rc, opts: opts}
}

// Do sends req, retrying locally on rate limits and transport failures.
// Any HTTP response other than 429 is returned with a nil error, whatever its
// status. ErrNoResponse is returned once the attempts are exhausted.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		last := attempt == c.opts.MaxAttempts

		r := c.rc.R().SetContext(ctx)
		if len(req.Header) > 0 {
			r.SetHeaders(req.Header)
		}
		if len(req.Query) > 0 {
			r.SetQueryParamsFromValues(req.Query)
		}
		if req.Body != nil {
			r.SetBody(req.Body)
		}

		resp, err := r.Execute(req.Method, req.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			wait := c.opts.ErrorWait
			outcome := "error"
			if isTransient(err) {
				wait = c.opts.TransientStep * time.Duration(attempt)
				outcome = "transient"
			}
			c.opts.Metrics.HTTPRequest(req.Method, outcome)
			slog.Warn("request failed", "method", req.Method, "url", req.URL, "attempt", attempt, "error", err)
			if last {
				break
			}
			if err := c.opts.Sleeper.Sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode() == http.StatusTooManyRequests {
			wait := retryAfter(resp.Header().Get("Retry-After"), c.opts.RateLimitWait)
			c.opts.Metrics.HTTPRequest(req.Method, "rate_limited")
			slog.Warn("rate limited", "url", req.URL, "attempt", attempt, "wait", wait)
			if last {
				break
			}
			if err := c.opts.Sleeper.Sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		c.opts.Metrics.HTTPRequest(req.Method, "ok")
		slog.Debug("request done", "method", req.Method, "url", req.URL, "status", resp.StatusCode())

		if err := c.opts.Sleeper.Sleep(ctx, c.opts.Throttle); err != nil {
			return nil, err
		}
		return &Response{
			StatusCode: resp.StatusCode(),
			Header:     resp.Header(),
			Body:       resp.Body(),
		}, nil
	}

	c.opts.Metrics.HTTPRequest(req.Method, "exhausted")
	return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, ErrNoResponse)
}

func retryAfter(header string, def time.Duration) time.Duration {
	if header == "" {
		return def
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// isTransient reports timeouts and connection failures, the errors worth a
// growing backoff. Everything else waits ErrorWait.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
