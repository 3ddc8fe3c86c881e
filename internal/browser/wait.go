package browser

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/brogergvhs/mangarule/internal/rule"
)

type State int

const (
	Polling State = iota
	Ready
	TimedOut
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case TimedOut:
		return "timed_out"
	default:
		return "polling"
	}
}

// Conditions are the readiness checks of one page.
type Conditions struct {
	ContainerSelectors []string
	ContentSelectors   []string
	MinTextLength      int
	RequireImageLoaded bool
}

func ConditionsFor(w rule.Wait) Conditions {
	return Conditions{
		ContainerSelectors: w.ContainerSelectors,
		ContentSelectors:   w.ContentSelectors,
		MinTextLength:      w.MinTextLength,
		RequireImageLoaded: w.RequireImageLoaded,
	}
}

func (c Conditions) Empty() bool {
	return len(c.ContainerSelectors) == 0 && len(c.ContentSelectors) == 0 && !c.RequireImageLoaded
}

// Probe reports whether the conditions hold for the current state of a page.
// A probe error counts as not ready; the controller keeps polling.
type Probe interface {
	Check(ctx context.Context, c Conditions) (bool, error)
}

type WaitResult struct {
	State   State
	Elapsed time.Duration
	Polls   int
	LastErr error
}

// WaitController polls a Probe until the conditions hold or the timeout
// elapses. A timeout is a result, not an error; only context cancellation
// is returned as an error.
type WaitController struct {
	Conditions Conditions
	Timeout    time.Duration
	Poll       time.Duration
	// Deadline, when set, replaces Timeout so navigation and readiness
	// share one budget.
	Deadline time.Time
}

func NewWaitController(w rule.Wait) *WaitController {
	wc := &WaitController{
		Conditions: ConditionsFor(w),
		Timeout:    w.Timeout,
		Poll:       w.Poll,
	}
	if wc.Timeout <= 0 {
		wc.Timeout = rule.DefaultWaitTimeout
	}
	if wc.Poll <= 0 {
		wc.Poll = rule.DefaultPollInterval
	}
	return wc
}

func (w *WaitController) Wait(ctx context.Context, p Probe) (WaitResult, error) {
	start := time.Now()
	res := WaitResult{State: Polling}

	if w.Conditions.Empty() {
		res.State = Ready
		return res, nil
	}

	timeout := w.Timeout
	if !w.Deadline.IsZero() {
		timeout = max(time.Until(w.Deadline), 0)
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(w.Poll)
	defer ticker.Stop()

	for {
		ok, err := p.Check(ctx, w.Conditions)
		res.Polls++
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				res.Elapsed = time.Since(start)
				return res, ctxErr
			}
			res.LastErr = err
		}
		if ok {
			res.State = Ready
			res.Elapsed = time.Since(start)
			return res, nil
		}

		select {
		case <-ctx.Done():
			res.Elapsed = time.Since(start)
			return res, ctx.Err()
		case <-deadline.C:
			res.State = TimedOut
			res.Elapsed = time.Since(start)
			return res, nil
		case <-ticker.C:
		}
	}
}

// DocumentProbe checks conditions against a parsed HTML snapshot. Images
// count as loaded when they carry a source, since a snapshot has no layout.
type DocumentProbe struct {
	Sel *goquery.Selection
}

func (d DocumentProbe) Check(_ context.Context, c Conditions) (bool, error) {
	return Evaluate(d.Sel, c), nil
}

func Evaluate(sel *goquery.Selection, c Conditions) bool {
	if sel == nil {
		return false
	}

	scope := sel
	if len(c.ContainerSelectors) > 0 {
		var container *goquery.Selection
		for _, s := range c.ContainerSelectors {
			if m := sel.Find(s); m.Length() > 0 {
				container = m
				break
			}
		}
		if container == nil {
			return false
		}
		scope = container
	}

	if len(c.ContentSelectors) > 0 {
		ok := false
		for _, s := range c.ContentSelectors {
			sel.Find(s).EachWithBreak(func(_ int, el *goquery.Selection) bool {
				if len([]rune(strings.TrimSpace(el.Text()))) >= c.MinTextLength {
					ok = true
				}
				return !ok
			})
			if ok {
				break
			}
		}
		if !ok {
			return false
		}
	}

	if c.RequireImageLoaded {
		imgs := scope.Find("img")
		if imgs.Length() == 0 {
			return false
		}
		loaded := true
		imgs.EachWithBreak(func(_ int, img *goquery.Selection) bool {
			src, _ := img.Attr("src")
			if strings.TrimSpace(src) == "" {
				loaded = false
			}
			return loaded
		})
		if !loaded {
			return false
		}
	}

	return true
}
