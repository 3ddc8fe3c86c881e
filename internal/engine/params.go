package engine

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/brogergvhs/mangarule/internal/rule"
	"github.com/brogergvhs/mangarule/internal/template"
)

var templateVar = regexp.MustCompile(`\\\{([A-Za-z_][A-Za-z0-9_]*)\\\}`)

// bindTarget derives run variables from the user supplied target and
// returns the entry URL to fetch. The target is a full URL, a bare id for
// rules whose entry.url contains {id}, or empty to use entry.url as is.
//
// Query parameters become variables and are stripped before matching.
// Placeholders of entry.url are matched against the target path, then
// entry.regex named groups override them.
func bindTarget(r *rule.Rule, target string, vars template.Map) (string, []string) {
	target = strings.TrimSpace(target)
	entryTmpl := ""
	if r.Entry != nil {
		entryTmpl = r.Entry.URL
	}

	if target == "" {
		if entryTmpl == "" {
			return "", nil
		}
		u, unbound := template.Resolve(entryTmpl, vars)
		vars["url"] = u
		applyRegex(r, u, vars, false)
		defaultID(vars, u)
		return u, unbound
	}

	if u, err := url.Parse(target); err == nil {
		for k, v := range u.Query() {
			if len(v) > 0 {
				vars[k] = v[0]
			}
		}
		if i := strings.IndexByte(target, '?'); i >= 0 {
			target = target[:i]
		}
	}

	if !strings.HasPrefix(target, "http") {
		vars["id"] = target
		if entryTmpl == "" {
			return "", nil
		}
		u, unbound := template.Resolve(entryTmpl, vars)
		vars["url"] = u
		applyRegex(r, u, vars, false)
		return u, unbound
	}

	for k, v := range matchTemplate(entryTmpl, target) {
		vars[k] = v
	}
	applyRegex(r, target, vars, true)

	if _, ok := vars["id"]; !ok && strings.Contains(entryTmpl, "{id}") {
		prefix, _, _ := strings.Cut(entryTmpl, "{id}")
		if strings.HasPrefix(target, prefix) {
			if id := strings.TrimSuffix(strings.TrimPrefix(target, prefix), "/"); id != "" {
				vars["id"] = id
			}
		}
	}

	vars["url"] = target
	defaultID(vars, target)
	return target, nil
}

// matchTemplate matches rawURL against an entry URL template where each
// {name} stands for one path segment. Extra trailing segments are allowed.
func matchTemplate(tmpl, rawURL string) map[string]string {
	tmpl = strings.TrimSuffix(tmpl, "/")
	if tmpl == "" || !strings.Contains(tmpl, "{") {
		return nil
	}

	expr := templateVar.ReplaceAllString(regexp.QuoteMeta(tmpl), `(?P<$1>[^/]+)`)
	re, err := regexp.Compile("^" + expr + "(?:/.*)?$")
	if err != nil {
		return nil
	}
	return namedGroups(re, rawURL)
}

func applyRegex(r *rule.Rule, s string, vars template.Map, override bool) {
	if r.Entry == nil || r.Entry.Regex == nil || s == "" {
		return
	}
	for k, v := range namedGroups(r.Entry.Regex, s) {
		if _, exists := vars[k]; exists && !override {
			continue
		}
		vars[k] = v
	}
}

func namedGroups(re *regexp.Regexp, s string) map[string]string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	out := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if i > 0 && name != "" && i < len(m) {
			out[name] = m[i]
		}
	}
	return out
}

func defaultID(vars template.Map, u string) {
	if _, ok := vars["id"]; !ok && u != "" {
		vars["id"] = u
	}
}
