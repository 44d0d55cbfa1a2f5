// Package github is the remote repository API client. Every call is rate
// limited, carries its own timeout and is retried with exponential backoff on
// network errors, 429 and 5xx responses.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// DefaultAPIURL is the public GitHub REST endpoint
	DefaultAPIURL = "https://api.github.com"
	// DefaultUploadsURL is the public release asset upload endpoint
	DefaultUploadsURL = "https://uploads.github.com"
	// DefaultTimeout bounds a single API request
	DefaultTimeout = 30 * time.Second
	// DefaultDownloadTimeout bounds a single binary transfer
	DefaultDownloadTimeout = 10 * time.Minute
	// DefaultRetries is the number of attempts per call
	DefaultRetries = 3
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "altsource"
)

// ErrNotFound is returned when the requested object does not exist
var ErrNotFound = errors.New("not found")

// StatusError is an unexpected HTTP status
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Options configures a Client
type Options struct {
	APIURL            string
	UploadsURL        string
	Token             string
	UserAgent         string
	Timeout           time.Duration
	DownloadTimeout   time.Duration
	Retries           int
	RetryInterval     time.Duration
	RequestsPerSecond float64
}

// Client talks to the GitHub REST API
type Client struct {
	http            *http.Client
	apiURL          string
	uploadsURL      string
	token           string
	userAgent       string
	timeout         time.Duration
	downloadTimeout time.Duration
	retries         int
	retryInterval   time.Duration
	limiter         *rate.Limiter
}

// TokenFromEnv returns the token exported by the CI environment
func TokenFromEnv() string {
	return strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
}

// NewClient creates a client, filling unset options with defaults
func NewClient(opts Options) *Client {
	c := &Client{
		http: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		apiURL:          strings.TrimRight(opts.APIURL, "/"),
		uploadsURL:      strings.TrimRight(opts.UploadsURL, "/"),
		token:           opts.Token,
		userAgent:       opts.UserAgent,
		timeout:         opts.Timeout,
		downloadTimeout: opts.DownloadTimeout,
		retries:         opts.Retries,
		retryInterval:   opts.RetryInterval,
		limiter:         rate.NewLimiter(rate.Inf, 1),
	}

	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	if c.uploadsURL == "" {
		c.uploadsURL = DefaultUploadsURL
	}
	if c.token == "" {
		c.token = TokenFromEnv()
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.downloadTimeout <= 0 {
		c.downloadTimeout = DefaultDownloadTimeout
	}
	if c.retries <= 0 {
		c.retries = DefaultRetries
	}
	if c.retryInterval <= 0 {
		c.retryInterval = time.Second
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return c
}

// request describes one logical API call. body is reopened on every attempt.
type request struct {
	method      string
	url         string
	accept      string
	contentType string
	body        func() (io.ReadCloser, int64, error)
	timeout     time.Duration
}

// do performs req with retries and hands a successful response to handle
// while the attempt's context is still live.
func (c *Client) do(ctx context.Context, req request, handle func(*http.Response) error) error {
	if req.timeout == 0 {
		req.timeout = c.timeout
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		err := c.attempt(ctx, req, handle)
		if err != nil && !isPermanent(err) {
			logrus.Debugf("%s %s failed (attempt %d/%d): %v", req.method, req.url, attempt, c.retries, err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.retries)),
	)
	return err
}

func (c *Client) attempt(ctx context.Context, req request, handle func(*http.Response) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()

	var body io.ReadCloser
	var length int64
	if req.body != nil {
		var err error
		body, length, err = req.body()
		if err != nil {
			return backoff.Permanent(err)
		}
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.method, req.url, body)
	if err != nil {
		if body != nil {
			body.Close()
		}
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	if body != nil {
		httpReq.ContentLength = length
	}
	c.setHeaders(httpReq, req)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if handle == nil {
		return nil
	}
	return handle(resp)
}

func (c *Client) setHeaders(httpReq *http.Request, req request) {
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	accept := req.accept
	if accept == "" {
		accept = "application/vnd.github+json"
	}
	httpReq.Header.Set("Accept", accept)
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if c.token != "" && c.authorizes(req.url) {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// authorizes reports whether the token may be sent to url
func (c *Client) authorizes(url string) bool {
	return strings.HasPrefix(url, c.apiURL) ||
		strings.HasPrefix(url, c.uploadsURL) ||
		strings.HasPrefix(url, "https://github.com/")
}

// checkStatus classifies a response. 429 and 5xx are retried, a Retry-After
// header is honoured, other failures are permanent.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &StatusError{
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, statusErr.URL))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			logrus.Warnf("Rate limited by %s, retrying after %ds", resp.Request.URL.Host, secs)
			return backoff.RetryAfter(secs)
		}
		return statusErr
	default:
		return backoff.Permanent(statusErr)
	}
}

func isPermanent(err error) bool {
	var permanent *backoff.PermanentError
	return errors.As(err, &permanent)
}

// getJSON fetches url and decodes the response into v
func (c *Client) getJSON(ctx context.Context, url string, v interface{}) error {
	return c.do(ctx, request{method: http.MethodGet, url: url}, func(resp *http.Response) error {
		return decodeJSON(resp, v)
	})
}

// sendJSON sends payload as the request body and decodes the response into v when non-nil
func (c *Client) sendJSON(ctx context.Context, method, url string, payload, v interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req := request{
		method:      method,
		url:         url,
		contentType: "application/json",
		body: func() (io.ReadCloser, int64, error) {
			return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
		},
	}
	return c.do(ctx, req, func(resp *http.Response) error {
		if v == nil {
			return nil
		}
		return decodeJSON(resp, v)
	})
}

func decodeJSON(resp *http.Response, v interface{}) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode response from %s: %w", resp.Request.URL, err))
	}
	return nil
}

// download streams url into destPath through a temporary file
func (c *Client) download(ctx context.Context, url, destPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create download directory: %w", err)
	}

	var written int64
	req := request{
		method:  http.MethodGet,
		url:     url,
		accept:  "application/octet-stream",
		timeout: c.downloadTimeout,
	}
	err := c.do(ctx, req, func(resp *http.Response) error {
		tmpPath := destPath + ".tmp"
		f, err := os.Create(tmpPath)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create temp file: %w", err))
		}

		n, err := io.Copy(f, resp.Body)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to copy response body: %w", err)
		}
		if err := os.Rename(tmpPath, destPath); err != nil {
			os.Remove(tmpPath)
			return backoff.Permanent(fmt.Errorf("failed to rename temp file: %w", err))
		}
		written = n
		return nil
	})
	return written, err
}

func (c *Client) repoURL(repo string, parts ...string) string {
	return c.apiURL + "/repos/" + repo + strings.Join(parts, "")
}
