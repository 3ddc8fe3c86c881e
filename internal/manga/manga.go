// Package manga holds the records produced by rule evaluation.
package manga

import (
	"strconv"
	"strings"

	"github.com/brogergvhs/mangarule/internal/extract"
	"github.com/brogergvhs/mangarule/internal/template"
)

type MangaData struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Cover      string        `json:"cover"`
	Chapters   []ChapterData `json:"chapters"`
	TotalPages *int          `json:"total_pages,omitempty"`
}

type ChapterData struct {
	ChapterID    string `json:"chapter_id"`
	Chapter      string `json:"chapter"`
	ChapterTitle string `json:"chapter_title,omitempty"`
	Volume       string `json:"volume,omitempty"`
	GroupName    string `json:"group_name,omitempty"`
	Language     string `json:"language,omitempty"`
	Time         string `json:"time,omitempty"`
	TotalPages   *int   `json:"total_pages,omitempty"`
}

type ChapterPages struct {
	Pages []string `json:"pages"`
}

// Label is the human-facing name of a chapter, used for folders and
// archive names.
func (c ChapterData) Label() string {
	label := strings.TrimSpace(c.Chapter)
	if label == "" {
		label = strings.TrimSpace(c.ChapterTitle)
	}
	if label == "" {
		label = c.ChapterID
	}
	return label
}

// MangaFrom builds a MangaData from extracted top-level fields.
func MangaFrom(fields map[string]any) *MangaData {
	m := &MangaData{
		ID:         str(fields["id"]),
		Title:      str(fields["title"]),
		Cover:      str(fields["cover"]),
		TotalPages: number(fields["total_pages"]),
		Chapters:   []ChapterData{},
	}
	for _, item := range list(fields["chapters"]) {
		m.Chapters = append(m.Chapters, ChapterFrom(item))
	}
	return m
}

// ChapterFrom builds one chapter from a record. A scalar item is taken as
// the chapter id; url is accepted in place of chapter_id.
func ChapterFrom(v any) ChapterData {
	rec, ok := asMap(v)
	if !ok {
		s := str(v)
		return ChapterData{ChapterID: s, Chapter: s}
	}

	c := ChapterData{
		ChapterID:    str(rec["chapter_id"]),
		Chapter:      str(rec["chapter"]),
		ChapterTitle: str(rec["chapter_title"]),
		Volume:       str(rec["volume"]),
		GroupName:    str(rec["group_name"]),
		Language:     str(rec["language"]),
		Time:         str(rec["time"]),
		TotalPages:   number(rec["total_pages"]),
	}
	if c.ChapterID == "" {
		c.ChapterID = str(rec["url"])
	}
	return c
}

// PagesFrom flattens the pages field into URLs. Items may be strings,
// records with a single value, or records with a url, image_url, image or
// src key. Empty items are dropped.
func PagesFrom(fields map[string]any) *ChapterPages {
	p := &ChapterPages{Pages: []string{}}
	for _, item := range list(fields["pages"]) {
		if u := pageURL(item); u != "" {
			p.Pages = append(p.Pages, u)
		}
	}
	return p
}

func pageURL(v any) string {
	rec, ok := asMap(v)
	if !ok {
		return strings.TrimSpace(str(v))
	}
	for _, k := range []string{"url", "image_url", "image", "src"} {
		if s := str(rec[k]); s != "" {
			return strings.TrimSpace(s)
		}
	}
	if len(rec) == 1 {
		for _, only := range rec {
			return strings.TrimSpace(str(only))
		}
	}
	return ""
}

func asMap(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case extract.Record:
		return x, true
	case map[string]any:
		return x, true
	}
	return nil, false
}

func list(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case string:
		if x == "" {
			return nil
		}
	}
	return []any{v}
}

func str(v any) string {
	if _, ok := asMap(v); ok {
		return ""
	}
	return template.Stringify(v)
}

func number(v any) *int {
	s := strings.TrimSpace(str(v))
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return nil
		}
		n = int(f)
	}
	return &n
}
