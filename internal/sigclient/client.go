// Package sigclient calls the signature endpoint from the caller's side.
// Every request goes through a retry.Retrier, so a transient failure is
// retried with linear backoff before it reaches the caller.
package sigclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tbourn/match-results-backend/internal/credential"
	"github.com/tbourn/match-results-backend/internal/retry"
)

// SignaturePath is the endpoint path relative to the API base URL.
const SignaturePath = "/wechat/signature"

// ErrURLRequired is returned before any request when the page URL is blank.
var ErrURLRequired = errors.New("sigclient: url is required")

// StatusError reports a non-2xx answer from the signature endpoint.
type StatusError struct {
	Status int
	Code   string // error envelope code, when the body carried one
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("signature endpoint: status %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("signature endpoint: status %d", e.Status)
}

// Options configures a Client.
type Options struct {
	// BaseURL is the API base, e.g. "http://localhost:8080/api/v1".
	BaseURL string
	// Timeout bounds each attempt. Defaults to credential.DefaultTimeout.
	Timeout time.Duration
	// Retrier wraps every call. Defaults to retry.New(0, 0).
	Retrier *retry.Retrier
}

// Client fetches page signatures. It is safe for concurrent use.
type Client struct {
	http    *resty.Client
	retrier *retry.Retrier
}

// New builds a Client from opts.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = credential.DefaultTimeout
	}
	r := opts.Retrier
	if r == nil {
		r = retry.New(0, 0)
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	return &Client{http: hc, retrier: r}
}

type errorEnvelope struct {
	Code string `json:"code"`
}

// GetSignature asks the server to sign pageURL. The fragment is stripped
// before sending. 4xx answers are not retried.
func (c *Client) GetSignature(ctx context.Context, pageURL string) (*credential.Signature, error) {
	pageURL = credential.StripFragment(strings.TrimSpace(pageURL))
	if pageURL == "" {
		return nil, ErrURLRequired
	}
	return retry.Value(ctx, c.retrier, func(ctx context.Context) (*credential.Signature, error) {
		var (
			out  credential.Signature
			fail errorEnvelope
		)
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(map[string]string{"url": pageURL}).
			SetResult(&out).
			SetError(&fail).
			Post(SignaturePath)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			serr := &StatusError{Status: resp.StatusCode(), Code: fail.Code}
			if resp.StatusCode() < http.StatusInternalServerError && resp.StatusCode() != http.StatusTooManyRequests {
				return nil, retry.Permanent(serr)
			}
			return nil, serr
		}
		return &out, nil
	})
}

// Retries is the number of retries performed since the last reset.
func (c *Client) Retries() int { return c.retrier.Retries() }

// ResetRetries clears the retry tally between unrelated operations.
func (c *Client) ResetRetries() { c.retrier.Reset() }
