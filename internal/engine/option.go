package engine

import (
	"go.uber.org/zap"

	"github.com/brogergvhs/mangarule/internal/fetch"
)

type Option func(opts *options)

type options struct {
	Logger  *zap.Logger
	Fetcher fetch.Fetcher
	Browser Renderer
	Schemas []RecordSchema
}

var DefaultOptions = options{
	Logger: zap.NewNop(),
}

func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.Logger = logger
	}
}

func WithFetcher(f fetch.Fetcher) Option {
	return func(opts *options) {
		opts.Fetcher = f
	}
}

// WithBrowser enables the browser strategy and the auto fallback.
func WithBrowser(r Renderer) Option {
	return func(opts *options) {
		opts.Browser = r
	}
}

// WithSchemas replaces the record kinds and their required fields.
func WithSchemas(s []RecordSchema) Option {
	return func(opts *options) {
		opts.Schemas = s
	}
}
