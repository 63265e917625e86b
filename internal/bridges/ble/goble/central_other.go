//go:build !linux

package goble

import (
	"context"

	bridge "github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

// Central is unavailable on this platform.
type Central struct{}

// NewCentral always fails on this platform.
func NewCentral(Options) (*Central, error) {
	return nil, ErrUnsupportedPlatform
}

// Scan always fails on this platform.
func (c *Central) Scan(context.Context, func(bridge.Advertisement)) error {
	return ErrUnsupportedPlatform
}

// Dial always fails on this platform.
func (c *Central) Dial(context.Context, bridge.Address) (bridge.Link, error) {
	return nil, ErrUnsupportedPlatform
}

// Close is a no-op.
func (c *Central) Close() error { return nil }
