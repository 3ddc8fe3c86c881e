package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Output         string   `yaml:"output"`
	StorePath      string   `yaml:"store_path"`
	LogFile        string   `yaml:"log_file"`
	Debug          bool     `yaml:"debug"`
	Workers        int      `yaml:"workers"`
	ImageWorkers   int      `yaml:"image_workers"`
	ChapterWorkers int      `yaml:"chapter_workers"`
	KeepFolders    bool     `yaml:"keep_folders"`
	SkipBroken     bool     `yaml:"skip_broken"`
	ComicInfo      bool     `yaml:"comic_info"`
	AllowExt       []string `yaml:"allow_ext"`

	HTTP    HTTPConfig    `yaml:"http"`
	Browser BrowserConfig `yaml:"browser"`
}

type HTTPConfig struct {
	TimeoutSec       int     `yaml:"timeout_sec"`
	Retries          int     `yaml:"retries"`
	RatePerSec       float64 `yaml:"rate_per_sec"`
	Burst            int     `yaml:"burst"`
	UserAgent        string  `yaml:"user_agent"`
	Cookie           string  `yaml:"cookie"`
	CookieFile       string  `yaml:"cookie_file"`
	CloudflareBypass bool    `yaml:"cloudflare_bypass"`
}

func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSec) * time.Second
}

// BrowserConfig controls the rod pool used by browser and auto rules.
// Headful is stored instead of headless so an absent key keeps the default.
type BrowserConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Bin      string `yaml:"bin"`
	Headful  bool   `yaml:"headful"`
	Sessions int    `yaml:"sessions"`
	StableMS int    `yaml:"stable_ms"`
}

type Options struct {
	IgnoreConfig   bool
	Debug          bool
	Output         string
	StorePath      string
	LogFile        string
	Workers        int
	ImageWorkers   int
	ChapterWorkers int
	KeepFolders    bool
	SkipBroken     bool
	Cookie         string
	CookieFile     string
	UserAgent      string
	Browser        bool
	BrowserBin     string
}

func DefaultConfig() *Config {
	return &Config{
		Output:         ".",
		Workers:        4,
		ImageWorkers:   5,
		ChapterWorkers: 2,
		AllowExt:       []string{"jpg", "jpeg", "png", "webp"},
		HTTP: HTTPConfig{
			TimeoutSec: 30,
			Retries:    2,
			RatePerSec: 2,
			Burst:      2,
		},
		Browser: BrowserConfig{
			Sessions: 2,
			StableMS: 300,
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Output) == "" {
		return errors.New("output is required")
	}
	if c.Workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if c.ImageWorkers <= 0 {
		return errors.New("image_workers must be > 0")
	}
	if c.ChapterWorkers <= 0 {
		return errors.New("chapter_workers must be > 0")
	}
	if c.HTTP.TimeoutSec <= 0 {
		return errors.New("http.timeout_sec must be > 0")
	}
	if c.HTTP.Retries < 0 {
		return errors.New("http.retries must be >= 0")
	}
	if c.HTTP.RatePerSec < 0 {
		return errors.New("http.rate_per_sec must be >= 0")
	}
	if c.HTTP.Burst < 0 {
		return errors.New("http.burst must be >= 0")
	}
	if c.Browser.Enabled && c.Browser.Sessions <= 0 {
		return errors.New("browser.sessions must be > 0")
	}
	if c.Browser.StableMS < 0 {
		return errors.New("browser.stable_ms must be >= 0")
	}
	return nil
}

func SaveYAML(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func loadYAML(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c := DefaultConfig()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}

	return c, nil
}

// LoadMerged reads the active profile, applies flag overrides on top and
// validates the result. The returned string describes where the config
// came from.
func LoadMerged(opts Options) (*Config, string, error) {
	var (
		cfg    *Config
		source string
	)

	activePath, err := ActiveConfigPath()
	switch {
	case opts.IgnoreConfig:
		cfg, source = DefaultConfig(), "(ignored config)"
	case errors.Is(err, ErrNoConfig) || activePath == "":
		cfg = DefaultConfig()
		source = "(default config in memory)\nRun `mangarule config init` to create an actual config\n"
	case err != nil:
		return nil, "", err
	default:
		cfg, err = loadYAML(activePath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config %s: %w", activePath, err)
		}
		source = activePath
	}

	mergeConfig(cfg, opts)
	normalizeDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", source, err)
	}
	return cfg, source, nil
}

func mergeConfig(c *Config, o Options) {
	if o.Output != "" {
		c.Output = o.Output
	}
	if o.StorePath != "" {
		c.StorePath = o.StorePath
	}
	if o.LogFile != "" {
		c.LogFile = o.LogFile
	}
	if o.Workers != 0 {
		c.Workers = o.Workers
	}
	if o.ImageWorkers != 0 {
		c.ImageWorkers = o.ImageWorkers
	}
	if o.ChapterWorkers != 0 {
		c.ChapterWorkers = o.ChapterWorkers
	}
	if o.KeepFolders {
		c.KeepFolders = true
	}
	if o.SkipBroken {
		c.SkipBroken = true
	}
	if o.Debug {
		c.Debug = true
	}
	if o.Cookie != "" {
		c.HTTP.Cookie = o.Cookie
	}
	if o.CookieFile != "" {
		c.HTTP.CookieFile = o.CookieFile
	}
	if o.UserAgent != "" {
		c.HTTP.UserAgent = o.UserAgent
	}
	if o.Browser {
		c.Browser.Enabled = true
	}
	if o.BrowserBin != "" {
		c.Browser.Bin = o.BrowserBin
	}
}

func normalizeDefaults(c *Config) {
	if c.Output == "" {
		c.Output = "."
	}
	if c.StorePath == "" {
		c.StorePath = filepath.Join(ConfigRoot(), "mangarule.db")
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.ImageWorkers == 0 {
		c.ImageWorkers = 5
	}
	if c.ChapterWorkers == 0 {
		c.ChapterWorkers = 2
	}
	if c.HTTP.TimeoutSec == 0 {
		c.HTTP.TimeoutSec = 30
	}
	if c.Browser.Sessions == 0 {
		c.Browser.Sessions = 2
	}
}

// Get returns the value at a dotted key such as "http.retries". Lists are
// joined with commas.
func (c *Config) Get(key string) (string, error) {
	var root yaml.Node
	if err := root.Encode(c); err != nil {
		return "", err
	}
	n, err := lookup(&root, key)
	if err != nil {
		return "", err
	}

	switch n.Kind {
	case yaml.ScalarNode:
		return n.Value, nil
	case yaml.SequenceNode:
		vals := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			vals = append(vals, item.Value)
		}
		return strings.Join(vals, ","), nil
	default:
		b, err := yaml.Marshal(n)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
}

// Set assigns value to a dotted key. The value is decoded with the field's
// type, so "http.retries=abc" fails and leaves c untouched.
func (c *Config) Set(key, value string) error {
	var root yaml.Node
	if err := root.Encode(c); err != nil {
		return err
	}
	n, err := lookup(&root, key)
	if err != nil {
		return err
	}

	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag != "!!str" {
			n.Tag = ""
		}
		n.Value = value
		n.Style = 0
	case yaml.SequenceNode:
		n.Content = nil
		n.Style = yaml.FlowStyle
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: part})
			}
		}
	default:
		return fmt.Errorf("config key %q is a section", key)
	}

	out := DefaultConfig()
	out.AllowExt = nil
	if err := root.Decode(out); err != nil {
		return fmt.Errorf("config key %q: %w", key, err)
	}
	*c = *out
	return nil
}

func lookup(root *yaml.Node, key string) (*yaml.Node, error) {
	n := root
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	for _, part := range strings.Split(key, ".") {
		if n.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("unknown config key %q", key)
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == part {
				next = n.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("unknown config key %q", key)
		}
		n = next
	}
	return n, nil
}

func (c *Config) Print(w io.Writer) {
	fmt.Fprintf(w, " -output: %s\n", c.Output)
	fmt.Fprintf(w, " -store_path: %s\n", c.StorePath)
	if c.LogFile != "" {
		fmt.Fprintf(w, " -log_file: %s\n", c.LogFile)
	}
	fmt.Fprintf(w, " -workers: %d\n", c.Workers)
	fmt.Fprintf(w, " -image_workers: %d\n", c.ImageWorkers)
	fmt.Fprintf(w, " -chapter_workers: %d\n", c.ChapterWorkers)
	if c.KeepFolders {
		fmt.Fprintf(w, " -keep_folders: %t\n", c.KeepFolders)
	}
	if c.SkipBroken {
		fmt.Fprintf(w, " -skip_broken: %t\n", c.SkipBroken)
	}
	if c.Debug {
		fmt.Fprintf(w, " -debug: %t\n", c.Debug)
	}
	if len(c.AllowExt) > 0 {
		fmt.Fprintf(w, " -allow_ext: %s\n", strings.Join(c.AllowExt, ", "))
	}
	fmt.Fprintf(w, " -http: timeout=%ds retries=%d rate=%.2f/s burst=%d\n",
		c.HTTP.TimeoutSec, c.HTTP.Retries, c.HTTP.RatePerSec, c.HTTP.Burst)
	if c.HTTP.CookieFile != "" {
		fmt.Fprintf(w, " -cookie_file: %s\n", c.HTTP.CookieFile)
	}
	if c.Browser.Enabled {
		fmt.Fprintf(w, " -browser: sessions=%d headful=%t\n", c.Browser.Sessions, c.Browser.Headful)
	}
}
