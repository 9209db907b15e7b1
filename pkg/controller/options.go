// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultResponseTimeout bounds how long a command may stay pending
const DefaultResponseTimeout = time.Second

// Option configures a Controller
type Option interface {
	apply(*options) error
}

type optFunc func(*options) error

func (f optFunc) apply(o *options) error {
	return f(o)
}

type options struct {
	logger          logrus.FieldLogger
	responseTimeout time.Duration
	verifyChecksum  bool
	observers       []Observer
}

func defaultOptions() *options {
	l := logrus.New()
	l.SetOutput(io.Discard)

	return &options{
		logger:          l,
		responseTimeout: DefaultResponseTimeout,
		verifyChecksum:  true,
	}
}

// WithLogger sets the logger used by the controller
func WithLogger(l logrus.FieldLogger) Option {
	return optFunc(func(o *options) error {
		if l == nil {
			return errors.New("controller: logger is nil")
		}
		o.logger = l
		return nil
	})
}

// WithResponseTimeout sets how long a command waits for its reply before
// it is abandoned. Zero waits forever.
func WithResponseTimeout(d time.Duration) Option {
	return optFunc(func(o *options) error {
		if d < 0 {
			return errors.New("controller: negative response timeout")
		}
		o.responseTimeout = d
		return nil
	})
}

// WithVerifyChecksum enables or disables checksum verification of replies
func WithVerifyChecksum(verify bool) Option {
	return optFunc(func(o *options) error {
		o.verifyChecksum = verify
		return nil
	})
}

// WithObserver registers an observer. Observers are called in order.
func WithObserver(obs Observer) Option {
	return optFunc(func(o *options) error {
		if obs == nil {
			return errors.New("controller: observer is nil")
		}
		o.observers = append(o.observers, obs)
		return nil
	})
}
