package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("APPDATA", "")
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "mangarule")
}

func TestLoadMergedWithoutProfile(t *testing.T) {
	root := isolate(t)

	cfg, source, err := LoadMerged(Options{Output: "/srv/manga", Browser: true})
	require.NoError(t, err)
	assert.Contains(t, source, "mangarule config init")
	assert.Equal(t, "/srv/manga", cfg.Output)
	assert.True(t, cfg.Browser.Enabled)
	assert.Equal(t, filepath.Join(root, "mangarule.db"), cfg.StorePath)
	assert.Equal(t, 30, cfg.HTTP.TimeoutSec)
}

func TestProfiles(t *testing.T) {
	root := isolate(t)

	path, err := InitDefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "configs", "Default.yaml"), path)

	_, err = InitDefaultConfig()
	assert.ErrorIs(t, err, os.ErrExist)

	_, err = CreateConfig("fast")
	require.NoError(t, err)
	_, err = CreateConfig("fast")
	assert.Error(t, err)
	_, err = CreateConfig("../evil")
	assert.Error(t, err)

	require.NoError(t, SwitchConfig("fast"))
	list, err := ListConfigs()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Default", list[0].Label)
	assert.True(t, list[1].Active)

	cfg, active, err := LoadActive()
	require.NoError(t, err)
	require.NoError(t, cfg.Set("http.retries", "7"))
	require.NoError(t, SaveYAML(cfg, active))

	merged, source, err := LoadMerged(Options{})
	require.NoError(t, err)
	assert.Equal(t, active, source)
	assert.Equal(t, 7, merged.HTTP.Retries)

	assert.Error(t, RemoveConfig(DefaultLabel))
	require.NoError(t, RemoveConfig("fast"))
	label, err := CurrentLabel()
	require.NoError(t, err)
	assert.Equal(t, DefaultLabel, label)

	assert.Error(t, SwitchConfig("missing"))
}

func TestLoadMergedRejectsInvalid(t *testing.T) {
	isolate(t)
	_, err := InitDefaultConfig()
	require.NoError(t, err)

	path, err := ActiveConfigPath()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("http:\n  retries: -1\n"), 0644))

	_, _, err = LoadMerged(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http.retries")

	cfg, _, err := LoadMerged(Options{IgnoreConfig: true})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.HTTP.Retries)
}

func TestGetSet(t *testing.T) {
	cfg := DefaultConfig()

	v, err := cfg.Get("image_workers")
	require.NoError(t, err)
	assert.Equal(t, "5", v)

	v, err = cfg.Get("allow_ext")
	require.NoError(t, err)
	assert.Equal(t, "jpg,jpeg,png,webp", v)

	require.NoError(t, cfg.Set("browser.enabled", "true"))
	require.NoError(t, cfg.Set("http.user_agent", "123"))
	require.NoError(t, cfg.Set("http.rate_per_sec", "0.5"))
	require.NoError(t, cfg.Set("allow_ext", "png, avif"))
	assert.True(t, cfg.Browser.Enabled)
	assert.Equal(t, "123", cfg.HTTP.UserAgent)
	assert.Equal(t, 0.5, cfg.HTTP.RatePerSec)
	assert.Equal(t, []string{"png", "avif"}, cfg.AllowExt)

	assert.Error(t, cfg.Set("http.retries", "many"))
	assert.Equal(t, 2, cfg.HTTP.Retries)
	assert.Error(t, cfg.Set("http", "x"))
	_, err = cfg.Get("nope.key")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"ok", func(c *Config) {}, ""},
		{"workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"timeout", func(c *Config) { c.HTTP.TimeoutSec = -1 }, "http.timeout_sec"},
		{"rate", func(c *Config) { c.HTTP.RatePerSec = -2 }, "http.rate_per_sec"},
		{"sessions", func(c *Config) { c.Browser.Enabled = true; c.Browser.Sessions = 0 }, "browser.sessions"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.mutate(c)
			err := c.Validate()
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	c := DefaultConfig()
	c.Browser.Enabled = true
	c.Print(&buf)
	assert.Contains(t, buf.String(), " -image_workers: 5")
	assert.Contains(t, buf.String(), "sessions=2")
}
