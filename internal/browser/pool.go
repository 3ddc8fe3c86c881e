package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/brogergvhs/mangarule/internal/rule"
)

// Session is one rendering tab. It is owned by a single extraction between
// Acquire and Release.
type Session interface {
	Probe
	Navigate(ctx context.Context, url string, headers map[string]string, w rule.Wait) error
	HTML(ctx context.Context) (string, error)
}

type Sessions interface {
	Acquire(ctx context.Context) (Session, error)
	Release(s Session)
}

const readinessJS = `(containers, contents, minLen, requireImg) => {
  let container = null;
  if (containers.length) {
    for (const s of containers) {
      const el = document.querySelector(s);
      if (el) { container = el; break; }
    }
    if (!container) return false;
  }
  if (contents.length) {
    let ok = false;
    for (const s of contents) {
      for (const el of document.querySelectorAll(s)) {
        if ((el.innerText || el.textContent || '').trim().length >= minLen) { ok = true; break; }
      }
      if (ok) break;
    }
    if (!ok) return false;
  }
  if (requireImg) {
    const imgs = Array.from((container || document).querySelectorAll('img'));
    if (!imgs.length) return false;
    if (!imgs.every(i => i.complete && i.naturalWidth > 0)) return false;
  }
  return true;
}`

type PoolOptions struct {
	Size     int
	Bin      string
	Headless bool
	// StableFor is how long the DOM must stay unchanged before the render
	// is considered stable. Rules can skip this wait.
	StableFor time.Duration
	Logger    *zap.Logger
}

// Pool hands out rod pages, at most Size at a time. The browser is
// launched on first use.
type Pool struct {
	opts  PoolOptions
	slots chan struct{}
	log   *zap.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func NewPool(opts PoolOptions) *Pool {
	if opts.Size < 1 {
		opts.Size = 1
	}
	if opts.StableFor <= 0 {
		opts.StableFor = 300 * time.Millisecond
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		opts:  opts,
		slots: make(chan struct{}, opts.Size),
		log:   log,
	}
}

func (p *Pool) connect() (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browser != nil {
		return p.browser, nil
	}

	l := launcher.New().Headless(p.opts.Headless).Leakless(false)
	if p.opts.Bin != "" {
		l = l.Bin(p.opts.Bin)
	} else if path, ok := launcher.LookPath(); ok {
		l = l.Bin(path)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	p.log.Info("browser launched", zap.String("control_url", u), zap.Int("sessions", p.opts.Size))
	p.browser = b
	p.launcher = l
	return b, nil
}

func (p *Pool) Acquire(ctx context.Context) (Session, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	b, err := p.connect()
	if err != nil {
		<-p.slots
		return nil, err
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		<-p.slots
		return nil, fmt.Errorf("open page: %w", err)
	}
	return &rodSession{page: page, stableFor: p.opts.StableFor, log: p.log}, nil
}

func (p *Pool) Release(s Session) {
	if rs, ok := s.(*rodSession); ok {
		if err := rs.page.Close(); err != nil {
			p.log.Debug("close page", zap.Error(err))
		}
	}
	<-p.slots
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browser == nil {
		return nil
	}
	err := p.browser.Close()
	if p.launcher != nil {
		p.launcher.Kill()
	}
	p.browser = nil
	p.launcher = nil
	return err
}

type rodSession struct {
	page      *rod.Page
	stableFor time.Duration
	log       *zap.Logger
}

// Navigate loads url and waits for load and render stability. ctx carries
// the deadline shared with the readiness wait.
func (s *rodSession) Navigate(ctx context.Context, url string, headers map[string]string, w rule.Wait) error {
	page := s.page.Context(ctx)

	if len(headers) > 0 {
		dict := make([]string, 0, len(headers)*2)
		for k, v := range headers {
			dict = append(dict, k, v)
		}
		if _, err := page.SetExtraHeaders(dict); err != nil {
			return fmt.Errorf("set headers: %w", err)
		}
	}

	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}

	if !w.SkipNavigationWait {
		if err := page.WaitLoad(); err != nil {
			return fmt.Errorf("wait load: %w", err)
		}
	}

	if !w.SkipRenderStable {
		if err := page.WaitStable(s.stableFor); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.log.Debug("render not stable", zap.String("url", url), zap.Error(err))
		}
	}
	return nil
}

func (s *rodSession) Check(ctx context.Context, c Conditions) (bool, error) {
	containers := c.ContainerSelectors
	if containers == nil {
		containers = []string{}
	}
	contents := c.ContentSelectors
	if contents == nil {
		contents = []string{}
	}

	res, err := s.page.Context(ctx).Eval(readinessJS, containers, contents, c.MinTextLength, c.RequireImageLoaded)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}
