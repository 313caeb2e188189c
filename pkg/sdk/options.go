package sdk

import (
	"io"

	"github.com/pterm/pterm"
)

// Options holds settings shared by every SDK component.
type Options struct {
	Logger *pterm.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithLogger sets the structured logger. Components log every failure with the
// identifiers needed to diagnose it, including failures they absorb.
func WithLogger(logger *pterm.Logger) Option {
	return func(opts *Options) {
		if logger != nil {
			opts.Logger = logger
		}
	}
}

func newOptions(optFns []Option) Options {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = pterm.DefaultLogger.WithWriter(io.Discard)
	}
	return opts
}
