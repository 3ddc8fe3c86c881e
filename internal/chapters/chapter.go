package chapters

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/brogergvhs/mangarule/internal/manga"
)

// DefaultDirLen caps directory names built from manga titles.
const DefaultDirLen = 120

var (
	reservedName = regexp.MustCompile(`(?i)^(con|prn|aux|nul|com[1-9]|lpt[1-9])$`)
	reSpaces     = regexp.MustCompile(`\s+`)
	reUnderscore = regexp.MustCompile(`_+`)
)

// SafeDirName turns a title into a directory name that is valid on
// Windows as well as Unix.
func SafeDirName(title string, max int) string {
	if max <= 0 {
		max = DefaultDirLen
	}

	s := norm.NFKC.String(title)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		if strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, s)
	s = reSpaces.ReplaceAllString(s, " ")
	s = strings.Trim(s, ". \t")
	s = reUnderscore.ReplaceAllString(s, "_")

	if s == "" {
		s = "untitled"
	}
	if reservedName.MatchString(s) {
		s += "_dir"
	}

	if r := []rune(s); len(r) > max {
		s = strings.TrimRight(string(r[:max]), ". -")
	}
	return s
}

// Chapter is a chapter reference with its 1-based position in the manga's
// chapter list.
type Chapter struct {
	manga.ChapterData
	Index int
}

func FromManga(m *manga.MangaData) []Chapter {
	out := make([]Chapter, 0, len(m.Chapters))
	for i, c := range m.Chapters {
		out = append(out, Chapter{ChapterData: c, Index: i + 1})
	}
	return out
}

func sanitize(s string) string {
	s = strings.ToLower(s)

	repl := strings.NewReplacer(
		"•", "_",
		"-", "_",
		"—", "_",
		"–", "_",
		"/", "_",
		"\\", "_",
		".", "_",
		" ", "_",
		"(", "",
		")", "",
	)
	s = repl.Replace(s)

	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return -1
	}, s)

	s = reUnderscore.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

func (c Chapter) baseName() string {
	lbl := sanitize(c.Chapter)
	if lbl == "" {
		lbl = fmt.Sprintf("%03d", c.Index)
	}

	title := sanitize(c.ChapterTitle)
	if title != "" && title != lbl {
		lbl += "_" + title
	}
	if v := sanitize(c.Volume); v != "" {
		lbl = "vol_" + v + "_" + lbl
	}
	return lbl
}

func (c Chapter) FolderName() string {
	return c.baseName() + "_tmp"
}

func (c Chapter) OutputCBZ() string {
	return c.baseName() + ".cbz"
}

func (c Chapter) OutputCBZPath(out string) string {
	return filepath.Join(out, c.OutputCBZ())
}
