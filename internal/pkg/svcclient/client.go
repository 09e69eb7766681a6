// Package svcclient holds the HTTP clients services use to call each other.
//
// Every call is a JSON POST with a bearer service secret and a fixed timeout.
// Failures come back as apperr upstream errors classified Retryable (network,
// timeout, 5xx, 408, 429) or Fatal (other 4xx, or 2xx with success=false), so
// callers can decide between surfacing, swallowing and queueing a retry.
package svcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/errorhandler"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/logger"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/metrics"
)

const defaultTimeout = 5 * time.Second

// ErrInsufficientBalance is returned when the wallet service refuses a debit.
var ErrInsufficientBalance = apperr.InsufficientResource("INSUFFICIENT_BALANCE", "insufficient wallet balance")

// Client is a JSON-over-HTTP client bound to one upstream service.
type Client struct {
	service string
	baseURL string
	token   string
	ua      string
	http    *http.Client
}

// envelope mirrors response.Response on the wire.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient creates a client for service at baseURL.
func NewClient(service, baseURL, token string, timeout time.Duration, ua string) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		ua:      ua,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// PostJSON posts payload to path and decodes the envelope's data into out (when
// out is non-nil). It returns the HTTP status of a successful call.
func (c *Client) PostJSON(ctx context.Context, path string, payload, out any) (int, error) {
	if c == nil || c.http == nil {
		return 0, apperr.Fatal("unknown", errors.New("client is nil"))
	}
	if c.baseURL == "" {
		return 0, apperr.Fatal(c.service, errors.New("base url is empty"))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, apperr.Fatal(c.service, fmt.Errorf("encode request: %w", err))
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, apperr.Fatal(c.service, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}
	if reqID := logger.RequestID(ctx); reqID != "unknown" {
		req.Header.Set("X-Request-ID", reqID)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		classified := c.classifyRequestError(ctx, err)
		c.observe(start, "error")
		errorhandler.LogExternalServiceError(ctx, c.service, endpoint, 0, classified, "")
		return 0, classified
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		c.observe(start, "error")
		return resp.StatusCode, apperr.Retryable(c.service, fmt.Errorf("read body: %w", readErr))
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decodeErr != nil {
			c.observe(start, "fatal")
			return resp.StatusCode, apperr.Fatal(c.service, fmt.Errorf("decode response: %w", decodeErr))
		}
		if !env.Success {
			c.observe(start, "fatal")
			err := apperr.Fatal(c.service, fmt.Errorf("status=%d success=false body=%s", resp.StatusCode, string(raw)))
			errorhandler.LogExternalServiceError(ctx, c.service, endpoint, resp.StatusCode, err, string(raw))
			return resp.StatusCode, err
		}
		if out != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, out); err != nil {
				c.observe(start, "fatal")
				return resp.StatusCode, apperr.Fatal(c.service, fmt.Errorf("decode data: %w", err))
			}
		}
		c.observe(start, "ok")
		return resp.StatusCode, nil
	}

	err = c.classifyStatus(resp.StatusCode, env, raw)
	if apperr.IsRetryable(err) {
		c.observe(start, "retryable")
	} else {
		c.observe(start, "fatal")
	}
	errorhandler.LogExternalServiceError(ctx, c.service, endpoint, resp.StatusCode, err, string(raw))
	return resp.StatusCode, err
}

func (c *Client) classifyStatus(status int, env envelope, raw []byte) error {
	cause := fmt.Errorf("%s http error: status=%d body=%s", c.service, status, string(raw))

	if env.Error != nil && env.Error.Code == ErrInsufficientBalance.Code {
		return ErrInsufficientBalance.WithCause(cause)
	}

	switch {
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return apperr.Retryable(c.service, cause)
	default:
		return apperr.Fatal(c.service, cause)
	}
}

func (c *Client) observe(start time.Time, outcome string) {
	metrics.UpstreamCalls.WithLabelValues(c.service, outcome).Observe(time.Since(start).Seconds())
}

func (c *Client) classifyRequestError(ctx context.Context, err error) error {
	if isTimeoutError(ctx, err) {
		return apperr.Timeout(c.service, err)
	}
	if isNetworkError(err) {
		return apperr.Retryable(c.service, err)
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Fatal(c.service, err)
	}
	return apperr.Retryable(c.service, err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}
