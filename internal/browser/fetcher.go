// Package browser implements the browser acquisition mode: pooled rod
// sessions and the polling readiness controller.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brogergvhs/mangarule/internal/diag"
	"github.com/brogergvhs/mangarule/internal/fetch"
	"github.com/brogergvhs/mangarule/internal/rule"
)

type Fetcher struct {
	sessions Sessions
	log      *zap.Logger
}

func NewFetcher(s Sessions, log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{sessions: s, log: log}
}

// Render navigates a session to req.URL, waits for readiness and returns
// the rendered DOM. Navigation and readiness share the wait timeout. When
// it elapses the current DOM is still returned, with a wait_timeout
// diagnostic attached.
func (f *Fetcher) Render(ctx context.Context, req fetch.Request, w rule.Wait) (*fetch.Content, error) {
	sess, err := f.sessions.Acquire(ctx)
	if err != nil {
		return nil, &fetch.FetchError{URL: req.URL, Step: req.Step, Err: err}
	}
	defer f.sessions.Release(sess)

	wc := NewWaitController(w)
	wc.Deadline = time.Now().Add(wc.Timeout)
	navCtx, cancel := context.WithDeadline(ctx, wc.Deadline)
	err = sess.Navigate(navCtx, req.URL, req.Headers, w)
	navErr := navCtx.Err()
	cancel()

	var res WaitResult
	switch {
	case err == nil:
		res, err = wc.Wait(ctx, sess)
		if err != nil {
			return nil, &fetch.FetchError{URL: req.URL, Step: req.Step, Err: err}
		}
	case ctx.Err() == nil && errors.Is(navErr, context.DeadlineExceeded):
		res = WaitResult{State: TimedOut, Elapsed: wc.Timeout, LastErr: err}
	default:
		return nil, &fetch.FetchError{URL: req.URL, Step: req.Step, Err: err}
	}

	html, err := sess.HTML(ctx)
	if err != nil {
		return nil, &fetch.FetchError{URL: req.URL, Step: req.Step, Err: err}
	}

	f.log.Debug("rendered",
		zap.String("url", req.URL),
		zap.Stringer("state", res.State),
		zap.Int("polls", res.Polls),
		zap.Duration("elapsed", res.Elapsed))

	content := &fetch.Content{URL: req.URL, Kind: fetch.KindHTML, Body: []byte(html)}
	if res.State == TimedOut {
		msg := fmt.Sprintf("page not ready after %s, extracting current DOM", res.Elapsed.Round(time.Millisecond))
		if res.LastErr != nil {
			msg += ": " + res.LastErr.Error()
		}
		content.Diagnostics = append(content.Diagnostics, diag.Diagnostic{Code: diag.WaitTimeout, Message: msg})
	}
	return content, nil
}
