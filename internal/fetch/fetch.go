// Package fetch acquires raw content for rule entries and API steps.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/brogergvhs/mangarule/internal/diag"
)

type Kind int

const (
	KindHTML Kind = iota
	KindJSON
)

func (k Kind) String() string {
	if k == KindJSON {
		return "json"
	}
	return "html"
}

type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	// Step is the API step id, empty for the entry request.
	Step string
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// Content is what every acquisition mode returns. Diagnostics carries
// non-fatal conditions such as a browser wait timeout.
type Content struct {
	URL         string
	Kind        Kind
	Body        []byte
	StatusCode  int
	Diagnostics []diag.Diagnostic
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request, kind Kind) (*Content, error)
}

var ErrInvalidJSON = errors.New("response is not valid json")

// FetchError is returned for network failures, timeouts, non-2xx responses
// and undecodable bodies. It aborts the rule evaluation.
type FetchError struct {
	URL        string
	Step       string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	target := "entry"
	if e.Step != "" {
		target = "step " + e.Step
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s %s: HTTP %d: %v", target, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s %s: %v", target, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
