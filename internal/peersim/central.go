package peersim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

// DefaultAdvertisingInterval is how often each peripheral advertises.
const DefaultAdvertisingInterval = 100 * time.Millisecond

// Central is a simulated local controller that sees every added
// peripheral.
type Central struct {
	interval time.Duration

	mu          sync.Mutex
	peripherals map[ble.Address]*Peripheral
	order       []ble.Address
}

// NewCentral creates an empty radio. A zero interval uses
// DefaultAdvertisingInterval.
func NewCentral(interval time.Duration) *Central {
	if interval <= 0 {
		interval = DefaultAdvertisingInterval
	}
	return &Central{interval: interval, peripherals: make(map[ble.Address]*Peripheral)}
}

// Add puts a peripheral in radio range.
func (c *Central) Add(p *Peripheral) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.peripherals[p.addr]; !ok {
		c.order = append(c.order, p.addr)
	}
	c.peripherals[p.addr] = p
}

// Remove takes a peripheral out of range, dropping its connection.
func (c *Central) Remove(addr ble.Address) {
	c.mu.Lock()
	p, ok := c.peripherals[addr]
	delete(c.peripherals, addr)
	for i, a := range c.order {
		if a == addr {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if ok {
		p.Disconnect()
	}
}

// Peripheral returns the peripheral at addr.
func (c *Central) Peripheral(addr ble.Address) (*Peripheral, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peripherals[addr]
	return p, ok
}

// Scan reports an advertisement from every unconnected peripheral once per
// interval until ctx is done.
func (c *Central) Scan(ctx context.Context, handler func(ble.Advertisement)) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		for _, p := range c.advertising() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			handler(p.advertisement())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Central) advertising() []*Peripheral {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Peripheral
	for _, addr := range c.order {
		if p := c.peripherals[addr]; !p.Connected() {
			out = append(out, p)
		}
	}
	return out
}

// Dial connects to an advertising peripheral.
func (c *Central) Dial(ctx context.Context, addr ble.Address) (ble.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := c.Peripheral(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s out of range", ErrNotConnectable, addr)
	}
	link, err := p.connect()
	if err != nil {
		return nil, err
	}
	return link, nil
}
