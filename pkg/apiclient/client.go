// Package apiclient talks to a running pbxsched server. It keeps one CSRF
// token per server origin for the lifetime of the client.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"golang.org/x/net/publicsuffix"

	apperrors "github.com/sw33tLie/pbxsched/pkg/errors"
	"github.com/sw33tLie/pbxsched/pkg/instance"
	"github.com/sw33tLie/pbxsched/pkg/normalize"
)

const csrfHeader = "X-CSRF-Token"

type Options struct {
	Username string // basic auth, optional
	Password string
	Proxy    string
	RetryMax int // defaults to 3 if <= 0
	Timeout  time.Duration
}

type Client struct {
	http     *retryablehttp.Client
	username string
	password string

	mu     sync.Mutex
	tokens map[string]string // origin -> CSRF token
}

func New(opts Options) (*Client, error) {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = log.New(io.Discard, "", 0)
	retryClient.RetryMax = opts.RetryMax
	if retryClient.RetryMax <= 0 {
		retryClient.RetryMax = 3
	}
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.CheckRetry = checkRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if opts.Timeout > 0 {
		retryClient.HTTPClient.Timeout = opts.Timeout
	}

	// The server pairs its CSRF token with a cookie.
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	retryClient.HTTPClient.Jar = jar

	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %v", err)
		}
		retryClient.HTTPClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	return &Client{
		http:     retryClient,
		username: opts.Username,
		password: opts.Password,
		tokens:   make(map[string]string),
	}, nil
}

// checkRetry retries transport failures and 503 only. Every other status is
// a server decision (cooldown, in-flight sync, timeout) that must reach the
// caller unchanged.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return resp.StatusCode == http.StatusServiceUnavailable, nil
}

func (c *Client) Register(ctx context.Context, server string, reg instance.Registration) (*instance.Record, error) {
	body, err := json.Marshal(map[string]string{
		"url":         reg.BaseURL,
		"username":    reg.Username,
		"password":    reg.Password,
		"displayName": reg.DisplayName,
		"otpSecret":   reg.OTPSecret,
	})
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, http.MethodPost, server, "/api/instances", body)
	if err != nil {
		return nil, err
	}
	var rec instance.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("could not decode instance: %w", err)
	}
	return &rec, nil
}

func (c *Client) Sync(ctx context.Context, server, instanceID string) (*normalize.SyncSummary, error) {
	raw, err := c.do(ctx, http.MethodPost, server, "/api/instances/"+url.PathEscape(instanceID)+"/sync", nil)
	if err != nil {
		return nil, err
	}
	res := gjson.ParseBytes(raw)
	summary := &normalize.SyncSummary{
		InstanceID:  res.Get("instanceId").String(),
		FetchedAt:   res.Get("fetchedAt").Time(),
		ModuleCount: int(res.Get("moduleCount").Int()),
		RuleCount:   int(res.Get("ruleCount").Int()),
		Warnings:    []string{},
	}
	for _, w := range res.Get("warnings").Array() {
		summary.Warnings = append(summary.Warnings, w.String())
	}
	return summary, nil
}

func (c *Client) Verify(ctx context.Context, server, instanceID string) (*instance.Health, error) {
	raw, err := c.do(ctx, http.MethodPost, server, "/api/instances/"+url.PathEscape(instanceID)+"/verify", nil)
	if err != nil {
		return nil, err
	}
	return decodeHealth(raw)
}

func (c *Client) Health(ctx context.Context, server, instanceID string) (*instance.Health, error) {
	raw, err := c.do(ctx, http.MethodGet, server, "/api/instances/"+url.PathEscape(instanceID)+"/health", nil)
	if err != nil {
		return nil, err
	}
	return decodeHealth(raw)
}

func decodeHealth(raw []byte) (*instance.Health, error) {
	var h instance.Health
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("could not decode health: %w", err)
	}
	return &h, nil
}

// do sends one request. Mutating requests carry the cached CSRF token of
// the server's origin; a 403 drops the token and the request is sent once
// more with a fresh one.
func (c *Client) do(ctx context.Context, method, server, path string, body []byte) ([]byte, error) {
	origin, err := Origin(server)
	if err != nil {
		return nil, err
	}
	mutating := method != http.MethodGet && method != http.MethodHead

	for attempt := 0; ; attempt++ {
		var token string
		if mutating {
			if token, err = c.token(ctx, origin); err != nil {
				return nil, err
			}
		}
		status, raw, err := c.send(ctx, method, origin+path, token, body)
		if err != nil {
			return nil, err
		}
		if status == http.StatusForbidden && mutating && attempt == 0 {
			c.Invalidate(origin)
			continue
		}
		if status < 200 || status > 299 {
			return nil, decodeError(status, raw)
		}
		return raw, nil
	}
}

func (c *Client) send(ctx context.Context, method, target, token string, body []byte) (int, []byte, error) {
	var rawBody interface{}
	if body != nil {
		rawBody = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, rawBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(csrfHeader, token)
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

// token returns the cached token of origin, fetching one on first use.
func (c *Client) token(ctx context.Context, origin string) (string, error) {
	c.mu.Lock()
	tok, ok := c.tokens[origin]
	c.mu.Unlock()
	if ok {
		return tok, nil
	}

	status, raw, err := c.send(ctx, http.MethodGet, origin+"/api/csrf", "", nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", decodeError(status, raw)
	}
	tok = gjson.GetBytes(raw, "csrfToken").String()
	if tok == "" {
		return "", fmt.Errorf("%s returned no CSRF token", origin)
	}

	c.mu.Lock()
	c.tokens[origin] = tok
	c.mu.Unlock()
	return tok, nil
}

// Invalidate forgets the token of origin.
func (c *Client) Invalidate(origin string) {
	c.mu.Lock()
	delete(c.tokens, origin)
	c.mu.Unlock()
}

// Origin reduces a server URL to scheme://host[:port].
func Origin(server string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(server))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", apperrors.NewValidationError("invalid server URL").AddField("server", "expected http(s)://host[:port]", server)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

// decodeError rebuilds the server's AppError so callers can switch on the
// same codes as in-process callers.
func decodeError(status int, raw []byte) error {
	res := gjson.ParseBytes(raw)
	code := apperrors.ErrorCode(res.Get("code").String())
	msg := res.Get("message").String()
	if code == "" {
		code = apperrors.ErrCodeInternal
		msg = strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(status)
		}
	}
	e := apperrors.NewAppError(code, msg).WithDetails(res.Get("details").String())
	e.HTTPStatus = status
	if secs := res.Get("metadata.retryAfterSeconds").Int(); secs > 0 {
		e = e.WithRetryAfter(time.Duration(secs) * time.Second)
	}
	return e
}
