package manga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brogergvhs/mangarule/internal/extract"
)

func TestMangaFrom(t *testing.T) {
	m := MangaFrom(map[string]any{
		"id":          "42",
		"title":       "Title",
		"cover":       "https://x.test/c.jpg",
		"total_pages": float64(120),
		"chapters": []any{
			extract.Record{"chapter_id": "c1", "chapter": "1", "group_name": "grp"},
			extract.Record{"url": "https://x.test/c/2", "chapter": float64(2.5)},
			"https://x.test/c/3",
		},
	})

	assert.Equal(t, "42", m.ID)
	assert.Equal(t, "Title", m.Title)
	require.NotNil(t, m.TotalPages)
	assert.Equal(t, 120, *m.TotalPages)
	require.Len(t, m.Chapters, 3)
	assert.Equal(t, ChapterData{ChapterID: "c1", Chapter: "1", GroupName: "grp"}, m.Chapters[0])
	assert.Equal(t, "https://x.test/c/2", m.Chapters[1].ChapterID)
	assert.Equal(t, "2.5", m.Chapters[1].Chapter)
	assert.Equal(t, "https://x.test/c/3", m.Chapters[2].ChapterID)
}

func TestMangaFromEmpty(t *testing.T) {
	m := MangaFrom(map[string]any{"title": "T", "chapters": []any{}})
	assert.Empty(t, m.Cover)
	assert.NotNil(t, m.Chapters)
	assert.Empty(t, m.Chapters)
	assert.Nil(t, m.TotalPages)
}

func TestPagesFrom(t *testing.T) {
	p := PagesFrom(map[string]any{
		"pages": []any{
			"https://cdn/1.png",
			extract.Record{"image": "https://cdn/2.png"},
			extract.Record{"page": " https://cdn/3.png "},
			map[string]any{"src": "https://cdn/4.png", "w": float64(800)},
			"",
		},
	})
	assert.Equal(t, []string{"https://cdn/1.png", "https://cdn/2.png", "https://cdn/3.png", "https://cdn/4.png"}, p.Pages)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "12", ChapterData{Chapter: " 12 ", ChapterID: "x"}.Label())
	assert.Equal(t, "Finale", ChapterData{ChapterTitle: "Finale", ChapterID: "x"}.Label())
	assert.Equal(t, "x", ChapterData{ChapterID: "x"}.Label())
}
