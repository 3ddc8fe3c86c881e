package ui

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats totals a download command across concurrently processed chapters.
type Stats struct {
	TotalImages   atomic.Int64
	TotalBytes    atomic.Int64
	TotalChapters atomic.Int64
	Failed        atomic.Int64
}

func (s *Stats) AddChapter(images int, bytes int64) {
	s.TotalChapters.Add(1)
	s.TotalImages.Add(int64(images))
	s.TotalBytes.Add(bytes)
}

func (s *Stats) Summary(elapsed time.Duration) string {
	out := fmt.Sprintf("%d chapters, %d images, %s in %s",
		s.TotalChapters.Load(), s.TotalImages.Load(), HumanBytes(s.TotalBytes.Load()), elapsed.Round(time.Second))
	if n := s.Failed.Load(); n > 0 {
		out += fmt.Sprintf(" (%d failed)", n)
	}
	return out
}
