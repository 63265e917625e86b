package goble

import (
	"errors"
	"time"
)

// ErrUnsupportedPlatform is returned by NewCentral where no HCI socket is
// available.
var ErrUnsupportedPlatform = errors.New("goble: platform not supported")

// Defaults for Options.
const (
	DefaultScanInterval = 0x0010 // 10 ms in 0.625 ms units
	DefaultScanWindow   = 0x0010
	DefaultDialTimeout  = 10 * time.Second
)

// Options configures the local controller.
type Options struct {
	// AdapterID is the HCI device index (0 for hci0).
	AdapterID int

	// ScanInterval and ScanWindow are in 0.625 ms units.
	ScanInterval uint16
	ScanWindow   uint16

	// DialTimeout bounds connection establishment inside the stack.
	DialTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.ScanInterval == 0 {
		o.ScanInterval = DefaultScanInterval
	}
	if o.ScanWindow == 0 || o.ScanWindow > o.ScanInterval {
		o.ScanWindow = o.ScanInterval
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
}
