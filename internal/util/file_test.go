package util

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateCBZ(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for _, name := range []string{"page_002.png", "page_001.jpg"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0644))
		files = append(files, p)
	}

	out := filepath.Join(dir, "chapter_1.cbz")
	require.NoError(t, CreateCBZ(files, out, &ComicInfo{Title: "Chapter 1", Series: "Some & Manga", Number: "1"}))
	assert.NoFileExists(t, out+".part")
	assert.Equal(t, filepath.Join(dir, "page_002.png"), files[0])

	zr, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"page_001.jpg", "page_002.png", "ComicInfo.xml"}, names)

	rc, err := zr.File[2].Open()
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	_ = rc.Close()
	assert.Contains(t, string(b), "<Series>Some &amp; Manga</Series>")
	assert.Contains(t, string(b), "<PageCount>2</PageCount>")
}

func TestCreateCBZMissingFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "broken.cbz")
	err := CreateCBZ([]string{filepath.Join(dir, "nope.jpg")}, out, nil)
	require.Error(t, err)
	assert.NoFileExists(t, out)
	assert.NoFileExists(t, out+".part")
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "chapter_1_tmp"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chapter_2.cbz"), nil, 0644))

	CleanupUnfinishedTempFolders(dir, zap.NewNop())
	assert.NoDirExists(t, filepath.Join(dir, "chapter_1_tmp"))
	assert.FileExists(t, filepath.Join(dir, "chapter_2.cbz"))

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.Mkdir(empty, 0755))
	RemoveIfEmpty(empty, zap.NewNop())
	assert.NoDirExists(t, empty)
	RemoveIfEmpty(dir, zap.NewNop())
	assert.DirExists(t, dir)
}
