package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/brogergvhs/mangarule/internal/util"
)

type Option func(o *options)

type options struct {
	Client     *http.Client
	UserAgent  string
	Timeout    time.Duration
	Retries    int
	RetryWait  time.Duration
	RatePerSec float64
	Burst      int
	Logger     *zap.Logger
}

var defaultOptions = options{
	Timeout:   30 * time.Second,
	Retries:   2,
	RetryWait: 500 * time.Millisecond,
	Burst:     1,
	Logger:    zap.NewNop(),
}

// WithClient sets the underlying http.Client, normally one built by
// util.NewHTTPClient so UA, cookies and the Cloudflare transport apply.
func WithClient(c *http.Client) Option {
	return func(o *options) {
		o.Client = c
	}
}

func WithUserAgent(ua string) Option {
	return func(o *options) {
		o.UserAgent = ua
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.Timeout = d
	}
}

func WithRetries(n int, wait time.Duration) Option {
	return func(o *options) {
		o.Retries = n
		o.RetryWait = wait
	}
}

// WithRateLimit limits requests per host. A rate of 0 disables limiting.
func WithRateLimit(perSec float64, burst int) Option {
	return func(o *options) {
		o.RatePerSec = perSec
		o.Burst = burst
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// HTTP serves the static and api acquisition modes. It is safe for
// concurrent use; connections are pooled by the shared client.
type HTTP struct {
	client *resty.Client
	log    *zap.Logger

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewHTTP(opts ...Option) *HTTP {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Client == nil {
		o.Client = util.NewHTTPClient(util.HTTPClientOptions{
			Timeout:   o.Timeout,
			UserAgent: util.PickUserAgent(o.UserAgent),
			Logger:    o.Logger,
		})
	}
	if o.Burst < 1 {
		o.Burst = 1
	}

	rc := resty.NewWithClient(o.Client).
		SetHeader("User-Agent", util.PickUserAgent(o.UserAgent)).
		SetRetryCount(o.Retries).
		SetRetryWaitTime(o.RetryWait).
		SetRetryMaxWaitTime(o.RetryWait * 8).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})
	if o.Timeout > 0 {
		rc.SetTimeout(o.Timeout)
	}

	h := &HTTP{
		client:   rc,
		log:      o.Logger,
		burst:    o.Burst,
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Inf,
	}
	if o.RatePerSec > 0 {
		h.limit = rate.Limit(o.RatePerSec)
	}
	return h
}

func (h *HTTP) Fetch(ctx context.Context, req Request, kind Kind) (*Content, error) {
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &FetchError{URL: req.URL, Step: req.Step, Err: fmt.Errorf("invalid url")}
	}

	if err := h.limiter(u.Host).Wait(ctx); err != nil {
		return nil, &FetchError{URL: req.URL, Step: req.Step, Err: err}
	}

	r := h.client.R().SetContext(ctx)
	if kind == KindJSON {
		r.SetHeader("Accept", "application/json, text/plain, */*")
	}
	r.SetHeaders(req.Headers)
	if req.Body != "" {
		r.SetBody(req.Body)
	}

	start := time.Now()
	resp, err := r.Execute(req.method(), req.URL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &FetchError{URL: req.URL, Step: req.Step, Err: err}
	}

	h.log.Debug("fetched",
		zap.String("url", req.URL),
		zap.String("step", req.Step),
		zap.Int("status", resp.StatusCode()),
		zap.Int("bytes", len(resp.Body())),
		zap.Duration("elapsed", time.Since(start)))

	if !resp.IsSuccess() {
		return nil, &FetchError{
			URL:        req.URL,
			Step:       req.Step,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("unexpected status %s", strings.TrimSpace(resp.Status())),
		}
	}

	body := resp.Body()
	switch kind {
	case KindJSON:
		if !gjson.ValidBytes(body) {
			return nil, &FetchError{URL: req.URL, Step: req.Step, StatusCode: resp.StatusCode(), Err: ErrInvalidJSON}
		}
	default:
		body = toUTF8(body, resp.Header().Get("Content-Type"))
	}

	return &Content{
		URL:        req.URL,
		Kind:       kind,
		Body:       body,
		StatusCode: resp.StatusCode(),
	}, nil
}

func (h *HTTP) limiter(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.limiters[host] = l
	}
	return l
}

func toUTF8(body []byte, contentType string) []byte {
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" || enc == nil {
		return body
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return out
}
