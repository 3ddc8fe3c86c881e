package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scrapeRule = `{
  "site": "local",
  "domains": ["127.0.0.1"],
  "strategy": "static",
  "extract": [
    {"name": "title", "type": "css", "selector": "h1", "trim": true},
    {"name": "cover", "type": "css", "selector": "img.cover", "attr": "src"},
    {"name": "chapters", "type": "css", "selector": "a.ch", "multiple": true, "children": [
      {"name": "url", "type": "css", "attr": ["href"]}
    ]}
  ]
}`

func TestScrapeWritesOnlyJSONToStdout(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("APPDATA", "")
	t.Setenv("XDG_CONFIG_HOME", dir)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/m/1" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `<html><body><h1>Title</h1><img class="cover" src="/c.jpg">
<a class="ch" href="/c/1">1</a></body></html>`)
	}))
	defer srv.Close()

	rulePath := filepath.Join(dir, "rule.json")
	require.NoError(t, os.WriteFile(rulePath, []byte(scrapeRule), 0644))

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{
		"scrape", "--debug", "--ignore-config",
		"--store", filepath.Join(dir, "mangarule.db"),
		"--rule", rulePath,
		srv.URL + "/m/1", srv.URL + "/missing",
	})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		flagRuleFile = ""
		flagDebug = false
		flagIgnoreConfig = false
		flagStorePath = ""
	})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/missing")

	require.True(t, json.Valid(stdout.Bytes()), stdout.String())
	var results []map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "local", results[0]["site"])

	assert.Contains(t, stderr.String(), "/missing")
	assert.Contains(t, stderr.String(), "DEBUG")
}
