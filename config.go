package rmsync

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
)

const defaultBTreeDegree = 32

// Config holds the settings shared by the containers of this package.
// It is populated with the With* options passed to the constructors;
// each container reads the fields relevant to it and ignores the rest.
type Config struct {
	sizeHint int
	growOnly bool
	degree   int
	logger   hclog.Logger
}

func newConfig(options []func(*Config)) *Config {
	c := &Config{
		degree: defaultBTreeDegree,
		logger: hclog.NewNullLogger(),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// WithPresize configures a new container instance with capacity enough
// to hold sizeHint entries. The capacity is treated as the minimal
// capacity meaning that the underlying hash table will never shrink
// to a smaller capacity. If sizeHint is zero or negative, the value
// is ignored.
//
// OrderedMap ignores this option.
func WithPresize(sizeHint int) func(*Config) {
	return func(c *Config) {
		c.sizeHint = sizeHint
	}
}

// WithGrowOnly configures a new Map instance to be grow-only.
// This means that the underlying hash table grows in capacity when
// new keys are added, but does not shrink when keys are deleted.
// The only exception to this rule is the Clear method which
// shrinks the hash table back to the initial capacity.
func WithGrowOnly() func(*Config) {
	return func(c *Config) {
		c.growOnly = true
	}
}

// WithDegree sets the degree of the B-tree backing an OrderedMap.
func WithDegree(degree int) func(*Config) {
	if degree < 2 {
		panic(fmt.Sprintf("B-tree degree must be at least 2, got: %d", degree))
	}
	return func(c *Config) {
		c.degree = degree
	}
}

// WithLogger sets the logger used for diagnostic events such as hash
// table resizes or barrier release. Nothing is logged on the read
// path. By default, all events are discarded.
func WithLogger(logger hclog.Logger) func(*Config) {
	return func(c *Config) {
		if logger == nil {
			logger = hclog.NewNullLogger()
		}
		c.logger = logger
	}
}
