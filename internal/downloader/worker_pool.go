package downloader

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

type progressWriter struct {
	w  io.Writer
	n  int64
	fn func(done int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.n += int64(n)
		if p.fn != nil {
			p.fn(p.n)
		}
	}
	return n, err
}

type chapterState struct {
	mu         sync.Mutex
	doneImages int
	total      int
	doneBytes  int64
	files      []string
	errs       []error
}

func (cs *chapterState) finish(p Progress, i int, file string, err error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err != nil {
		cs.errs = append(cs.errs, fmt.Errorf("image %d: %w", i+1, err))
	} else if file != "" {
		cs.files[i] = file
	}
	cs.doneImages++
	p.Update(cs.doneImages, cs.total, cs.doneBytes)
}

func (cs *chapterState) addBytes(p Progress, delta int64) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.doneBytes += delta
	p.Update(cs.doneImages, cs.total, cs.doneBytes)
}

type poolResult struct {
	files []string
	bytes int64
	errs  []error
}

type pageFunc func(ctx context.Context, i int, progress func(done int64)) (string, error)

// runPool feeds page indexes to a fixed set of workers. Files are stored
// by index so the result keeps page order.
func (d *Downloader) runPool(ctx context.Context, urls []string, maxParallel int, p Progress, fn pageFunc) poolResult {
	total := len(urls)
	if maxParallel < 1 {
		maxParallel = 1
	}
	if maxParallel > total && total > 0 {
		maxParallel = total
	}

	cs := &chapterState{total: total, files: make([]string, total)}
	p.Update(0, total, 0)

	jobs := make(chan int)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for i := range jobs {
			if isGIF(urls[i]) {
				d.log.Debug("skipping gif page", zap.String("url", urls[i]))
				cs.finish(p, i, "", nil)
				continue
			}

			var last int64
			progress := func(done int64) {
				delta := done - last
				if delta <= 0 {
					return
				}
				last = done
				cs.addBytes(p, delta)
			}

			file, err := fn(ctx, i, progress)
			cs.finish(p, i, file, err)
		}
	}

	wg.Add(maxParallel)
	for w := 0; w < maxParallel; w++ {
		go worker()
	}

feed:
	for i := range urls {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}

	close(jobs)
	wg.Wait()

	return poolResult{files: cs.files, bytes: cs.doneBytes, errs: cs.errs}
}
