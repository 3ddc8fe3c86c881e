package rule

import "fmt"

// ConfigError reports a malformed rule. It is returned before any content is
// fetched and is always fatal for the rule.
type ConfigError struct {
	Site   string
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Site != "" {
		msg = fmt.Sprintf("rule %q: %s", e.Site, msg)
	} else {
		msg = "rule: " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
