package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressHandle(t *testing.T) {
	var out bytes.Buffer
	pm := NewProgressManager(&out)
	h := pm.Register("Ch.1", 3)
	h.Update(1, 3, 2048)
	h.Update(3, 3, 4096)
	h.MarkDone()
	h.Update(0, 0, 0)
	pm.Close()

	assert.EqualValues(t, 4096, h.bytes.Load())
	assert.True(t, h.final.Load())
}

func TestStatsSummary(t *testing.T) {
	var s Stats
	s.AddChapter(10, 3*1024*1024)
	s.AddChapter(5, 512*1024)
	s.Failed.Add(1)

	assert.Equal(t, "2 chapters, 15 images, 3.5 MiB in 2s (1 failed)", s.Summary(1600*time.Millisecond))
	assert.Equal(t, "0 B", HumanBytes(-1))
}
