package rule

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

type Strategy string

const (
	StrategyStatic  Strategy = "static"
	StrategyAPI     Strategy = "api"
	StrategyBrowser Strategy = "browser"
	StrategyAuto    Strategy = "auto"
)

type FieldType string

const (
	TypeCSS      FieldType = "css"
	TypeJSON     FieldType = "json"
	TypeTemplate FieldType = "template"
	TypeText     FieldType = "text"
)

// Document is the wire form of a scraping rule as written by rule authors.
// It is decoded from JSON or YAML and turned into a Rule by Compile.
type Document struct {
	Site       string        `json:"site" yaml:"site"`
	Domains    []string      `json:"domains" yaml:"domains"`
	Strategy   Strategy      `json:"strategy" yaml:"strategy"`
	Entry      *EntryRequest `json:"entry,omitempty" yaml:"entry,omitempty"`
	API        *APIWorkflow  `json:"api,omitempty" yaml:"api,omitempty"`
	Extract    []FieldRule   `json:"extract" yaml:"extract"`
	WaitConfig *WaitConfig   `json:"wait_config,omitempty" yaml:"wait_config,omitempty"`
}

type EntryRequest struct {
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Regex   string            `json:"regex,omitempty" yaml:"regex,omitempty"`
}

type APIWorkflow struct {
	Steps []APIStep `json:"steps" yaml:"steps"`
}

type APIStep struct {
	ID       string     `json:"id" yaml:"id"`
	Request  APIRequest `json:"request" yaml:"request"`
	Response string     `json:"response,omitempty" yaml:"response,omitempty"`
}

type APIRequest struct {
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`
}

type FieldRule struct {
	Name     string      `json:"name" yaml:"name"`
	Type     FieldType   `json:"type" yaml:"type"`
	Multiple bool        `json:"multiple,omitempty" yaml:"multiple,omitempty"`
	Trim     bool        `json:"trim,omitempty" yaml:"trim,omitempty"`
	Regex    string      `json:"regex,omitempty" yaml:"regex,omitempty"`
	Children []FieldRule `json:"children,omitempty" yaml:"children,omitempty"`
	From     string      `json:"from,omitempty" yaml:"from,omitempty"`

	Selector   string     `json:"selector,omitempty" yaml:"selector,omitempty"`
	Attr       StringList `json:"attr,omitempty" yaml:"attr,omitempty"`
	Filter     string     `json:"filter,omitempty" yaml:"filter,omitempty"`
	FilterMode string     `json:"filter_mode,omitempty" yaml:"filter_mode,omitempty"`

	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
}

type WaitConfig struct {
	ContainerSelectors []string `json:"container_selectors,omitempty" yaml:"container_selectors,omitempty"`
	ContentSelectors   []string `json:"content_selectors,omitempty" yaml:"content_selectors,omitempty"`
	MinTextLength      int      `json:"min_text_length,omitempty" yaml:"min_text_length,omitempty"`
	RequireImageLoaded bool     `json:"require_image_loaded,omitempty" yaml:"require_image_loaded,omitempty"`
	TimeoutMs          int      `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	PollMs             int      `json:"poll_ms,omitempty" yaml:"poll_ms,omitempty"`
	SkipNavigationWait bool     `json:"skip_navigation_wait,omitempty" yaml:"skip_navigation_wait,omitempty"`
	SkipRenderStable   bool     `json:"skip_render_stable,omitempty" yaml:"skip_render_stable,omitempty"`
}

// StringList accepts either a single string or an array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one == "" {
			*l = nil
		} else {
			*l = StringList{one}
		}
		return nil
	}

	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("expected string or array of strings: %w", err)
	}
	*l = many
	return nil
}

func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Value == "" {
			*l = nil
			return nil
		}
		*l = StringList{value.Value}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*l = many
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", value.Line)
	}
}
