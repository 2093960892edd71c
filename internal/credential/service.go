// Package credential issues JS-SDK page signatures for the WeChat platform.
//
// Signing a page needs two chained credentials from the platform: an access
// token, valid for about two hours, and a jsapi ticket derived from it. The
// Service caches only the token, in memory, and treats it as expired 60
// seconds before the platform says it is. The ticket is fetched fresh for
// every signature.
//
// Overview:
//
//   - New(opts) -> *Service
//     Builds a Service with a resty client bound to the platform base URL.
//
//   - (*Service).GetSignature(ctx, url) -> *Signature, error
//     Returns {appId, timestamp, nonceStr, signature} for a page URL.
//
//   - Sign(ticket, nonce, timestamp, url) -> string
//     The SHA-1 signature over the sorted key=value pairs.
//
// Concurrency:
//
//	The token is guarded by a mutex for memory safety only. Concurrent
//	callers that find the token expired may each refresh it; the last
//	write wins.
package credential

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultBaseURL is the public WeChat API endpoint.
	DefaultBaseURL = "https://api.weixin.qq.com"
	// DefaultTimeout bounds each call to the platform.
	DefaultTimeout = 5 * time.Second
	// SafetyMargin is subtracted from the declared token lifetime.
	SafetyMargin = 60 * time.Second

	nonceLength   = 16
	nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var tokenFetches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "credential_token_fetch_total",
		Help: "Access token lookups by result (cached, ok, error).",
	},
	[]string{"result"},
)

// Collectors returns the Prometheus collectors owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{tokenFetches}
}

// Signature is the payload a page needs to configure the JS-SDK.
type Signature struct {
	AppID     string `json:"appId"`
	Timestamp int64  `json:"timestamp"`
	NonceStr  string `json:"nonceStr"`
	Signature string `json:"signature"`
}

// Options configures a Service.
type Options struct {
	AppID     string
	AppSecret string
	BaseURL   string        // default DefaultBaseURL
	Timeout   time.Duration // default DefaultTimeout
}

// Service owns the cached access token. Build one per application identity
// and share it.
type Service struct {
	AppID     string
	appSecret string

	client *resty.Client
	now    func() time.Time
	nonce  func() string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// New returns a Service talking to opts.BaseURL.
func New(opts Options) *Service {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)

	return &Service{
		AppID:     opts.AppID,
		appSecret: opts.AppSecret,
		client:    c,
		now:       time.Now,
		nonce:     NewNonce,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
}

type ticketResponse struct {
	Ticket    string `json:"ticket"`
	ExpiresIn int64  `json:"expires_in"`
	ErrCode   int    `json:"errcode"`
	ErrMsg    string `json:"errmsg"`
}

// GetSignature signs pageURL. Any fragment is dropped before signing.
// Failures of either platform call are returned as *CredentialError.
func (s *Service) GetSignature(ctx context.Context, pageURL string) (*Signature, error) {
	ctx, span := otel.Tracer("credential/Service").Start(ctx, "GetSignature")
	defer span.End()

	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return nil, ErrURLRequired
	}

	token, err := s.accessToken(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token")
		return nil, err
	}

	ticket, err := s.fetchTicket(ctx, token)
	if err != nil {
		err = &CredentialError{Stage: StageTicket, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "ticket")
		return nil, err
	}

	ts := s.now().Unix()
	nonce := s.nonce()
	return &Signature{
		AppID:     s.AppID,
		Timestamp: ts,
		NonceStr:  nonce,
		Signature: Sign(ticket, nonce, ts, StripFragment(pageURL)),
	}, nil
}

// accessToken returns the cached token while it is valid and refreshes it
// otherwise. A failed refresh leaves no token behind.
func (s *Service) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.token != "" && s.now().Before(s.expiresAt) {
		tok := s.token
		s.mu.Unlock()
		tokenFetches.WithLabelValues("cached").Inc()
		return tok, nil
	}
	s.mu.Unlock()

	tok, lifetime, err := s.fetchToken(ctx)
	if err != nil {
		s.mu.Lock()
		s.token, s.expiresAt = "", time.Time{}
		s.mu.Unlock()
		tokenFetches.WithLabelValues("error").Inc()
		return "", &CredentialError{Stage: StageToken, Err: err}
	}

	s.mu.Lock()
	s.token = tok
	s.expiresAt = s.now().Add(lifetime - SafetyMargin)
	s.mu.Unlock()
	tokenFetches.WithLabelValues("ok").Inc()
	return tok, nil
}

func (s *Service) fetchToken(ctx context.Context) (string, time.Duration, error) {
	ctx, span := otel.Tracer("credential/Service").Start(ctx, "fetchToken", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"grant_type": "client_credential",
			"appid":      s.AppID,
			"secret":     s.appSecret,
		}).
		Get("/cgi-bin/token")
	if err != nil {
		return "", 0, fmt.Errorf("token request: %w", scrubURL(err))
	}
	if resp.StatusCode() != http.StatusOK {
		return "", 0, fmt.Errorf("token status %d", resp.StatusCode())
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body(), &tr); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if tr.ErrCode != 0 {
		return "", 0, fmt.Errorf("token errcode %d: %s", tr.ErrCode, tr.ErrMsg)
	}
	if tr.AccessToken == "" {
		return "", 0, errors.New("empty access_token")
	}

	span.SetAttributes(attribute.Int64("expires_in", tr.ExpiresIn))
	log.Debug().
		Int64("expires_in", tr.ExpiresIn).
		Dur("duration", time.Since(start)).
		Msg("access token refreshed")
	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}

func (s *Service) fetchTicket(ctx context.Context, token string) (string, error) {
	ctx, span := otel.Tracer("credential/Service").Start(ctx, "fetchTicket", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"access_token": token,
			"type":         "jsapi",
		}).
		Get("/cgi-bin/ticket/getticket")
	if err != nil {
		return "", fmt.Errorf("ticket request: %w", scrubURL(err))
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("ticket status %d", resp.StatusCode())
	}

	var tr ticketResponse
	if err := json.Unmarshal(resp.Body(), &tr); err != nil {
		return "", fmt.Errorf("decode ticket response: %w", err)
	}
	if tr.ErrCode != 0 {
		return "", fmt.Errorf("ticket errcode %d: %s", tr.ErrCode, tr.ErrMsg)
	}
	if tr.Ticket == "" {
		return "", errors.New("empty ticket")
	}
	return tr.Ticket, nil
}

// Sign computes the lower-case hex SHA-1 over the four parameters as sorted
// key=value pairs joined with '&'.
func Sign(ticket, nonce string, timestamp int64, pageURL string) string {
	pairs := []string{
		"jsapi_ticket=" + ticket,
		"noncestr=" + nonce,
		"timestamp=" + strconv.FormatInt(timestamp, 10),
		"url=" + pageURL,
	}
	sort.Strings(pairs)
	sum := sha1.Sum([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(sum[:])
}

// StripFragment removes everything from the first '#'.
func StripFragment(pageURL string) string {
	if i := strings.IndexByte(pageURL, '#'); i >= 0 {
		return pageURL[:i]
	}
	return pageURL
}

// NewNonce returns 16 characters drawn uniformly from [A-Za-z0-9].
func NewNonce() string {
	b := make([]byte, nonceLength)
	for i := range b {
		b[i] = nonceAlphabet[rand.IntN(len(nonceAlphabet))]
	}
	return string(b)
}

// scrubURL drops the request URL from transport errors; it carries the
// application secret in its query string.
func scrubURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
