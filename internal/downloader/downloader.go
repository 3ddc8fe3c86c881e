package downloader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/wailsapp/mimetype"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Progress receives page and byte counts while a chapter downloads.
// ui.ProgressHandle implements it.
type Progress interface {
	Update(done, total int, bytes int64)
	MarkDone()
}

type nopProgress struct{}

func (nopProgress) Update(int, int, int64) {}
func (nopProgress) MarkDone()              {}

type Option func(o *options)

type options struct {
	Logger     *zap.Logger
	SkipBroken bool
	Attempts   int
	RetryWait  time.Duration
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

var defaultOptions = options{
	Logger:    zap.NewNop(),
	Attempts:  3,
	RetryWait: time.Second,
	Timeout:   30 * time.Second,
	Burst:     1,
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithSkipBroken keeps going when some pages fail instead of failing the
// chapter.
func WithSkipBroken(skip bool) Option {
	return func(o *options) {
		o.SkipBroken = skip
	}
}

// WithRetries sets the attempts per page. The wait grows linearly with the
// attempt number.
func WithRetries(attempts int, wait time.Duration) Option {
	return func(o *options) {
		o.Attempts = attempts
		o.RetryWait = wait
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.Timeout = d
	}
}

// WithRateLimit limits image requests across all workers. A rate of 0
// disables limiting.
func WithRateLimit(perSec float64, burst int) Option {
	return func(o *options) {
		o.RatePerSec = perSec
		o.Burst = burst
	}
}

type Downloader struct {
	client *http.Client
	opts   options
	log    *zap.Logger
	limit  *rate.Limiter
}

func New(c *http.Client, opts ...Option) *Downloader {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Attempts < 1 {
		o.Attempts = 1
	}
	if o.Burst < 1 {
		o.Burst = 1
	}
	if c == nil {
		c = http.DefaultClient
	}

	d := &Downloader{client: c, opts: o, log: o.Logger}
	if o.RatePerSec > 0 {
		d.limit = rate.NewLimiter(rate.Limit(o.RatePerSec), o.Burst)
	}
	return d
}

// Download fetches urls into folder as page_NNN files using up to parallel
// workers. Files come back in page order; gifs are skipped.
func (d *Downloader) Download(
	ctx context.Context,
	urls []string,
	folder string,
	referer string,
	parallel int,
	p Progress,
) ([]string, int64, error) {
	if p == nil {
		p = nopProgress{}
	}
	if err := os.MkdirAll(folder, 0755); err != nil {
		return nil, 0, err
	}

	res := d.runPool(ctx, urls, parallel, p, func(ctx context.Context, i int, progress func(int64)) (string, error) {
		base := filepath.Join(folder, fmt.Sprintf("page_%03d", i+1))
		return d.downloadWithRetry(ctx, urls[i], base, referer, progress)
	})
	p.MarkDone()

	files := make([]string, 0, len(urls))
	for _, f := range res.files {
		if f != "" {
			files = append(files, f)
		}
	}

	if err := ctx.Err(); err != nil {
		return files, res.bytes, err
	}
	if len(res.errs) > 0 {
		for _, err := range res.errs {
			d.log.Warn("page failed", zap.String("folder", folder), zap.Error(err))
		}
		if !d.opts.SkipBroken {
			return files, res.bytes, fmt.Errorf("failed %d/%d images (use --skip-broken to continue): %w",
				len(res.errs), len(urls), errors.Join(res.errs...))
		}
	}
	return files, res.bytes, nil
}

func (d *Downloader) downloadWithRetry(
	ctx context.Context,
	u string,
	base string,
	referer string,
	progress func(done int64),
) (string, error) {
	var err error
	for attempt := 1; attempt <= d.opts.Attempts; attempt++ {
		var out string
		out, err = d.download(ctx, u, base, referer, progress)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil || attempt == d.opts.Attempts {
			break
		}
		d.log.Debug("retrying page", zap.String("url", u), zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * d.opts.RetryWait):
		}
	}

	return "", err
}

func (d *Downloader) download(
	ctx context.Context,
	u, base, referer string,
	progress func(done int64),
) (_ string, err error) {
	if d.limit != nil {
		if err := d.limit.Wait(ctx); err != nil {
			return "", err
		}
	}

	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: HTTP %d", u, resp.StatusCode)
	}

	var mt string
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, _ = mime.ParseMediaType(ct)
		if !strings.HasPrefix(mt, "image/") {
			return "", fmt.Errorf("%s: unexpected MIME: %s", u, ct)
		}
	}

	body := bufio.NewReaderSize(resp.Body, sniffLen)
	head, _ := body.Peek(sniffLen)

	output := base + pageExt(u, mt, head)
	f, err := os.Create(output)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(output)
		}
	}()

	pw := &progressWriter{w: f, fn: progress}
	if _, err := io.Copy(pw, body); err != nil {
		return "", err
	}

	if progress != nil && resp.ContentLength > 0 && pw.n < resp.ContentLength {
		progress(resp.ContentLength)
	}
	return output, nil
}

var imageExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true, ".avif": true, ".bmp": true,
}

const sniffLen = 512

// pageExt prefers the format found in the leading bytes of the image, then
// the extension of the URL path, then the media type, and defaults to .jpg.
func pageExt(raw, mediaType string, head []byte) string {
	if len(head) > 0 {
		if ext := mimetype.Detect(head).Extension(); imageExt[ext] {
			return ext
		}
	}
	if pu, err := url.Parse(raw); err == nil {
		if ext := strings.ToLower(path.Ext(pu.Path)); imageExt[ext] {
			return ext
		}
	}
	if mediaType != "" {
		sub := strings.TrimPrefix(mediaType, "image/")
		if sub == "jpeg" {
			sub = "jpg"
		}
		if ext := "." + sub; imageExt[ext] {
			return ext
		}
	}
	return ".jpg"
}

func isGIF(raw string) bool {
	pu, err := url.Parse(raw)
	if err != nil {
		return strings.HasSuffix(strings.ToLower(raw), ".gif")
	}
	return strings.EqualFold(path.Ext(pu.Path), ".gif")
}
