// SPDX-License-Identifier: MPL-2.0

package cueutil

// DefaultMaxFileSize bounds the size of any single CUE file read from disk.
const DefaultMaxFileSize int64 = 5 * 1024 * 1024

type (
	// Option configures CUE loading.
	Option func(*options)

	options struct {
		filename    string
		maxFileSize int64
		concrete    bool
	}
)

func defaultOptions() options {
	return options{maxFileSize: DefaultMaxFileSize}
}

// WithFilename sets the filename used in error messages.
func WithFilename(name string) Option {
	return func(o *options) { o.filename = name }
}

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(n int64) Option {
	return func(o *options) { o.maxFileSize = n }
}

// WithConcrete requires every field to be concrete after unification.
func WithConcrete(concrete bool) Option {
	return func(o *options) { o.concrete = concrete }
}
