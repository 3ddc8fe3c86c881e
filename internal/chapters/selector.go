package chapters

import (
	"fmt"
	"strconv"
	"strings"
)

// Selection picks chapters by label or by 1-based position. Chapter wins
// over Range, Range over List. Excludes apply afterwards.
type Selection struct {
	Chapter      string
	Range        string
	List         string
	ExcludeRange string
	ExcludeList  string
}

func Filter(all []Chapter, sel Selection) ([]Chapter, error) {
	var (
		out []Chapter
		err error
	)
	switch {
	case sel.Chapter != "":
		out = byLabel(all, sel.Chapter)
		if len(out) == 0 {
			if idx, convErr := atoi(sel.Chapter); convErr == nil && idx > 0 && idx <= len(all) {
				out = []Chapter{all[idx-1]}
			}
		}
	case sel.Range != "":
		out, err = byRange(all, sel.Range)
	case sel.List != "":
		out, err = byList(all, sel.List)
	default:
		out = all
	}
	if err != nil {
		return nil, err
	}

	drop := map[int]bool{}
	if sel.ExcludeRange != "" {
		ex, err := byRange(all, sel.ExcludeRange)
		if err != nil {
			return nil, fmt.Errorf("exclude: %w", err)
		}
		for _, c := range ex {
			drop[c.Index] = true
		}
	}
	if sel.ExcludeList != "" {
		ex, err := byList(all, sel.ExcludeList)
		if err != nil {
			return nil, fmt.Errorf("exclude: %w", err)
		}
		for _, c := range ex {
			drop[c.Index] = true
		}
	}
	if len(drop) == 0 {
		return out, nil
	}

	kept := make([]Chapter, 0, len(out))
	for _, c := range out {
		if !drop[c.Index] {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

func byLabel(all []Chapter, label string) []Chapter {
	var out []Chapter
	for _, ch := range all {
		if ch.Label() == label {
			out = append(out, ch)
		}
	}
	return out
}

func byRange(all []Chapter, rng string) ([]Chapter, error) {
	parts := strings.Split(rng, "-")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid range %q", rng)
	}
	start, err1 := atoi(parts[0])
	end, err2 := atoi(parts[1])
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("invalid range %q", rng)
	}
	if start <= 0 || start > end || end > len(all) {
		return nil, fmt.Errorf("range %q outside 1-%d", rng, len(all))
	}
	return all[start-1 : end], nil
}

func byList(all []Chapter, list string) ([]Chapter, error) {
	var out []Chapter
	for _, n := range strings.Split(list, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		idx, err := atoi(n)
		if err != nil {
			return nil, fmt.Errorf("invalid chapter index %q", n)
		}
		if idx > 0 && idx <= len(all) {
			out = append(out, all[idx-1])
		}
	}
	return out, nil
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
