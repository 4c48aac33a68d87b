package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"gonexia/internal/pkg/apierr"
	"gonexia/internal/pkg/logging"
)

const (
	defaultTimeout    = time.Second * 15
	defaultMaxRetries = 3
	defaultRetryBase  = time.Second

	maxBackoff = time.Second * 30
	maxJitter  = time.Second
)

// Credentials is the immutable per-request authentication material supplied
// by the session manager. A zero value sends no auth headers.
type Credentials struct {
	APIKey     string
	MobileID   int64
	DeviceUUID string
	AppVersion string
}

func (c Credentials) Empty() bool {
	return c.APIKey == "" || c.MobileID == 0
}

// Response is the outcome of a single logical request, after any retries.
type Response struct {
	Data      []byte
	Status    int
	Header    http.Header
	FromCache bool
}

// Decode unmarshals the response payload into out.
func (r *Response) Decode(out interface{}) error {
	if err := json.Unmarshal(r.Data, out); err != nil {
		return apierr.Wrap(apierr.KindParse, err, "decoding response payload")
	}
	return nil
}

type Options struct {
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
	HTTPClient *http.Client
}

// Client issues HTTP requests against the vendor API, classifying failures
// into the apierr taxonomy and retrying idempotent ones. It knows nothing
// about session semantics beyond attaching the credentials it is handed.
type Client struct {
	http       *http.Client
	maxRetries int
	retryBase  time.Duration
	etags      *etagCache
}

func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBase == 0 {
		opts.RetryBase = defaultRetryBase
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	hc.Timeout = opts.Timeout

	// The vendor signals an invalid session with a redirect to the login
	// page; surface 3xx responses instead of following them.
	hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{
		http:       hc,
		maxRetries: opts.MaxRetries,
		retryBase:  opts.RetryBase,
		etags:      newEtagCache(),
	}
}

// Do issues a request, retrying network failures and server errors with
// exponential backoff. Body (if non-nil) is marshalled as JSON.
func (c *Client) Do(ctx context.Context, method, url string, body interface{}, creds Credentials) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, apierr.Wrap(apierr.KindParse, err, "encoding request body")
		}
	}

	return c.doWithRetry(ctx, method, url, payload, creds, nil)
}

// GetWithETag performs a conditional GET. A 304 response with a cache hit
// yields the previously stored payload, flagged FromCache so callers can
// skip reprocessing. Any 200 response replaces the cache entry for the URL.
func (c *Client) GetWithETag(ctx context.Context, url string, creds Credentials) (*Response, error) {
	var precondition map[string]string
	entry, hit := c.etags.get(url)
	if hit {
		precondition = map[string]string{"If-None-Match": entry.etag}
	}

	resp, err := c.doWithRetry(ctx, http.MethodGet, url, nil, creds, precondition)
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case http.StatusNotModified:
		if !hit {
			return nil, apierr.New(apierr.KindHTTP, "unexpected 304 with no cached entry for %s", url)
		}
		metricEtagHits.Inc()
		logging.Logger(ctx).Debugf("etag cache hit for %s", url)
		return &Response{Data: entry.data, Status: resp.Status, Header: resp.Header, FromCache: true}, nil

	case http.StatusOK:
		if etag := resp.Header.Get("ETag"); etag != "" {
			c.etags.put(url, etag, resp.Data)
		}
	}

	return resp, nil
}

// InvalidateETag drops the cached entry for one URL, forcing the next
// conditional GET to fetch fresh data.
func (c *Client) InvalidateETag(url string) {
	c.etags.drop(url)
}

// InvalidateETags drops all cached conditional-GET state.
func (c *Client) InvalidateETags() {
	c.etags.clear()
}

func (c *Client) doWithRetry(ctx context.Context, method, url string, payload []byte, creds Credentials, extra map[string]string) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			metricRetries.Inc()
			delay := backoffDelay(c.retryBase, attempt-1)
			logging.Logger(ctx).Debugf("retrying %s %s in %s (attempt %d)", method, url, delay, attempt)

			select {
			case <-ctx.Done():
				return nil, apierr.Wrap(apierr.KindNetwork, ctx.Err(), "request cancelled")
			case <-time.After(delay):
			}
		}

		resp, err := c.doOnce(ctx, method, url, payload, creds, extra)
		if err == nil {
			return resp, nil
		}
		if !apierr.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, url string, payload []byte, creds Credentials, extra map[string]string) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindConfig, err, "building request for %s", url)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !creds.Empty() {
		req.Header.Set("X-ApiKey", creds.APIKey)
		req.Header.Set("X-MobileId", strconv.FormatInt(creds.MobileID, 10))
	}
	if creds.AppVersion != "" {
		req.Header.Set("X-AppVersion", creds.AppVersion)
	}
	if creds.DeviceUUID != "" {
		req.Header.Set("X-DeviceUuid", creds.DeviceUUID)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metricRequests.WithLabelValues(method, "error").Inc()
		return nil, classifyNetErr(err, url)
	}
	defer resp.Body.Close()

	metricRequests.WithLabelValues(method, statusClass(resp.StatusCode)).Inc()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindNetwork, err, "reading response body")
	}

	if err := classifyStatus(resp.StatusCode, data); err != nil {
		return nil, err
	}

	return &Response{Data: data, Status: resp.StatusCode, Header: resp.Header}, nil
}

// classifyStatus maps an HTTP status to the error taxonomy. 2xx and 304 are
// success paths.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300, status == http.StatusNotModified:
		return nil
	case status == http.StatusUnauthorized:
		return apierr.New(apierr.KindSessionExpired, "server rejected credentials")
	case status >= 300 && status < 400:
		// Redirects signal an invalid session (or bad login credentials
		// during sign-in); callers decide which.
		return apierr.New(apierr.KindSessionExpired, "server redirected (status %d)", status)
	default:
		return &apierr.Error{
			Kind:    apierr.KindHTTP,
			Status:  status,
			Message: string(bytes.TrimSpace(body)),
		}
	}
}

func classifyNetErr(err error, url string) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierr.Wrap(apierr.KindTimeout, err, "request to %s timed out", url)
	}
	return apierr.Wrap(apierr.KindNetwork, err, "request to %s failed", url)
}

// backoffDelay computes min(base * 2^n + jitter(0..1s), 30s) for attempt n.
func backoffDelay(base time.Duration, n int) time.Duration {
	delay := base << uint(n)
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}
	delay += time.Duration(rand.Int63n(int64(maxJitter)))
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
