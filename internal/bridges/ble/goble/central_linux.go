//go:build linux

package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"

	bridge "github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

// Central drives an HCI adapter through go-ble.
type Central struct {
	device *linux.Device

	// go-ble allows only one scan at a time per device.
	scanMu sync.Mutex
}

// NewCentral opens the HCI adapter for passive scanning.
func NewCentral(opts Options) (*Central, error) {
	opts.applyDefaults()

	scanParams := cmd.LESetScanParameters{
		LEScanType:           0x00, // passive
		LEScanInterval:       opts.ScanInterval,
		LEScanWindow:         opts.ScanWindow,
		OwnAddressType:       0x00, // public
		ScanningFilterPolicy: 0x00, // accept all
	}

	device, err := linux.NewDevice(
		ble.OptDeviceID(opts.AdapterID),
		ble.OptDialerTimeout(opts.DialTimeout),
		ble.OptListenerTimeout(opts.DialTimeout),
		ble.OptScanParams(scanParams),
	)
	if err != nil {
		return nil, fmt.Errorf("opening hci%d: %w", opts.AdapterID, err)
	}
	return &Central{device: device}, nil
}

// Scan reports advertisements until ctx is done.
func (c *Central) Scan(ctx context.Context, handler func(bridge.Advertisement)) error {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	return c.device.Scan(ctx, false, func(a ble.Advertisement) {
		addr, err := bridge.ParseAddress(a.Addr().String())
		if err != nil {
			return
		}
		handler(bridge.Advertisement{
			Address:     addr,
			Name:        a.LocalName(),
			RSSI:        a.RSSI(),
			Connectable: a.Connectable(),
		})
	})
}

// Dial connects to addr.
func (c *Central) Dial(ctx context.Context, addr bridge.Address) (bridge.Link, error) {
	client, err := c.device.Dial(ctx, ble.NewAddr(addr.String()))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return NewLink(addr, client), nil
}

// Close releases the adapter.
func (c *Central) Close() error {
	return c.device.Stop()
}
