package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProgress struct {
	mu     sync.Mutex
	done   int
	total  int
	bytes  int64
	marked bool
}

func (r *recordingProgress) Update(done, total int, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done, r.total, r.bytes = done, total, bytes
}

func (r *recordingProgress) MarkDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marked = true
}

func imageServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var flaky atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://reader.test/c/1", r.Header.Get("Referer"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png:" + r.URL.Path))
	})
	mux.HandleFunc("/api/image", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		_, _ = w.Write([]byte("webp"))
	})
	mux.HandleFunc("/flaky.jpg", func(w http.ResponseWriter, r *http.Request) {
		if flaky.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpg"))
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &flaky
}

func TestDownload(t *testing.T) {
	srv, flaky := imageServer(t)
	dir := filepath.Join(t.TempDir(), "ch_tmp")

	urls := []string{
		srv.URL + "/img/1.png?token=abc",
		srv.URL + "/anim.gif",
		srv.URL + "/api/image?id=3",
		srv.URL + "/flaky.jpg",
	}

	d := New(srv.Client(), WithRetries(2, time.Millisecond), WithRateLimit(1000, 4))
	p := &recordingProgress{}
	files, n, err := d.Download(context.Background(), urls, dir, "https://reader.test/c/1", 3, p)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "page_001.png"),
		filepath.Join(dir, "page_003.webp"),
		filepath.Join(dir, "page_004.jpg"),
	}, files)
	assert.EqualValues(t, int32(2), flaky.Load())

	b, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, "png:/img/1.png", string(b))

	assert.Equal(t, int64(len("png:/img/1.png")+len("webp")+len("jpg")), n)
	assert.Equal(t, 4, p.done)
	assert.Equal(t, 4, p.total)
	assert.True(t, p.marked)
}

func TestDownloadBrokenPages(t *testing.T) {
	srv, _ := imageServer(t)
	urls := []string{srv.URL + "/img/1.png", srv.URL + "/page.html", srv.URL + "/missing.png"}

	d := New(srv.Client(), WithRetries(1, time.Millisecond))
	files, _, err := d.Download(context.Background(), urls, t.TempDir(), "https://reader.test/c/1", 2, nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed 2/3 images")
	assert.ErrorContains(t, err, "unexpected MIME")
	assert.Len(t, files, 1)

	d = New(srv.Client(), WithRetries(1, time.Millisecond), WithSkipBroken(true))
	files, _, err = d.Download(context.Background(), urls, t.TempDir(), "https://reader.test/c/1", 2, nil)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestDownloadCancelled(t *testing.T) {
	srv, _ := imageServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(srv.Client())
	_, _, err := d.Download(ctx, []string{srv.URL + "/img/1.png"}, t.TempDir(), "", 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownloadRemovesPartialPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0})
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := New(srv.Client(), WithRetries(1, time.Millisecond), WithSkipBroken(true))
	files, _, err := d.Download(context.Background(), []string{srv.URL + "/p/1.jpg"}, dir, "", 1, nil)
	require.NoError(t, err)
	assert.Empty(t, files)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

var (
	pngHead  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}
	webpHead = []byte("RIFF\x24\x00\x00\x00WEBPVP8 ")
)

func TestPageExt(t *testing.T) {
	assert.Equal(t, ".png", pageExt("https://x.test/a/1.PNG?v=2", "", nil))
	assert.Equal(t, ".jpg", pageExt("https://x.test/img?id=1", "image/jpeg", nil))
	assert.Equal(t, ".avif", pageExt("https://x.test/img.php", "image/avif", nil))
	assert.Equal(t, ".jpg", pageExt("https://x.test/img", "image/x-unknown", nil))
	assert.Equal(t, ".png", pageExt("https://x.test/a/1.jpg", "image/jpeg", pngHead))
	assert.Equal(t, ".webp", pageExt("https://x.test/img?id=1", "", webpHead))
	assert.Equal(t, ".png", pageExt("https://x.test/a/1.png", "", []byte("not an image")))
	assert.True(t, isGIF("https://x.test/a.GIF?x=1"))
	assert.False(t, isGIF("https://x.test/gif/a.png"))
}
