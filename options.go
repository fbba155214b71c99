// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build windows

package afdpoll

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// defaultInitialEventCapacity seeds the capacity of buffers Wait grows
// internally when the caller's events slice is smaller than a completion
// batch.
const defaultInitialEventCapacity = 64

// selectorOptions holds configuration resolved at New.
type selectorOptions struct {
	logger               *logiface.Logger[*stumpy.Event]
	initialEventCapacity int
}

// Option configures a Selector at construction time.
type Option interface {
	applySelector(*selectorOptions) error
}

// optionImpl implements Option via a closure, matching the functional
// options convention used throughout this package.
type optionImpl struct {
	applySelectorFunc func(*selectorOptions) error
}

func (o *optionImpl) applySelector(opts *selectorOptions) error {
	return o.applySelectorFunc(opts)
}

// WithLogger sets the structured diagnostic logger used for poll-group
// creation, silent deletions, and selector poisoning. The default is a
// logger discarding all output.
func WithLogger(log *logiface.Logger[*stumpy.Event]) Option {
	return &optionImpl{func(opts *selectorOptions) error {
		opts.logger = log
		return nil
	}}
}

// WithInitialEventCapacity sets the initial capacity hint for buffers Wait
// grows internally. Purely a performance tuning knob; it has no effect on
// any observable semantic.
func WithInitialEventCapacity(n int) Option {
	return &optionImpl{func(opts *selectorOptions) error {
		if n > 0 {
			opts.initialEventCapacity = n
		}
		return nil
	}}
}

// resolveOptions applies Option instances over a freshly defaulted
// selectorOptions, skipping nil options.
func resolveOptions(opts []Option) (*selectorOptions, error) {
	cfg := &selectorOptions{
		logger:               stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(io.Discard))),
		initialEventCapacity: defaultInitialEventCapacity,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applySelector(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
