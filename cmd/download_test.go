package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brogergvhs/mangarule/internal/config"
	"github.com/brogergvhs/mangarule/internal/store"
)

func TestSplitExt(t *testing.T) {
	assert.Equal(t, []string{"webp", "jpg", "png"}, splitExt("WEBP|jpg, png"))
	assert.Empty(t, splitExt(" | "))
}

func TestDownloadBase(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "mangarule.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.DefaultConfig()
	cfg.Output = "/from/config"

	base, err := downloadBase(ctx, st, "", cfg)
	require.NoError(t, err)
	assert.Equal(t, "/from/config", base)

	require.NoError(t, st.Set(ctx, store.KeyMangaDirectory, "/from/store"))
	base, err = downloadBase(ctx, st, "", cfg)
	require.NoError(t, err)
	assert.Equal(t, "/from/store", base)

	base, err = downloadBase(ctx, st, "/from/flag", cfg)
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", base)
}
