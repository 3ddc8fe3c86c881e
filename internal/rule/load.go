package rule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatOf picks the document format from a file extension. Anything that is
// not .yaml or .yml is treated as JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

func Decode(data []byte, format Format) (Document, error) {
	var doc Document
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Document{}, &ConfigError{Reason: "invalid yaml", Err: err}
		}
	default:
		if err := json.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
			return Document{}, &ConfigError{Reason: "invalid json", Err: err}
		}
	}
	return doc, nil
}

// Parse decodes and compiles a rule document.
func Parse(data []byte, format Format) (*Rule, error) {
	doc, err := Decode(data, format)
	if err != nil {
		return nil, err
	}
	return Compile(doc)
}

func LoadFile(path string) (*Rule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule %s: %w", path, err)
	}
	return Parse(b, FormatOf(path))
}

// Marshal encodes doc as indented JSON.
func Marshal(doc Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}
