package goble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-ble/ble"

	bridge "github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

// Link wraps a connected go-ble client.
type Link struct {
	addr   bridge.Address
	client ble.Client

	mu      sync.Mutex
	profile *ble.Profile

	closeOnce sync.Once
	closeErr  error
}

// NewLink wraps an already connected client.
func NewLink(addr bridge.Address, client ble.Client) *Link {
	return &Link{addr: addr, client: client}
}

// Address returns the peer address.
func (l *Link) Address() bridge.Address { return l.addr }

// Discover answers one ranged request from the cached GATT profile.
func (l *Link) Discover(ctx context.Context, params bridge.DiscoverParams) ([]bridge.Attribute, error) {
	profile, err := l.loadProfile(ctx)
	if err != nil {
		return nil, err
	}

	var out []bridge.Attribute
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			switch params.Kind {
			case bridge.DiscoverCharacteristics:
				if params.Range.Contains(c.Handle) {
					out = append(out, bridge.Attribute{
						Handle:      c.Handle,
						ValueHandle: c.ValueHandle,
						Properties:  bridge.Property(c.Property),
						UUID:        c.UUID.String(),
					})
				}
			case bridge.DiscoverDescriptors:
				for _, d := range c.Descriptors {
					if !params.Range.Contains(d.Handle) {
						continue
					}
					if params.UUID != 0 && !d.UUID.Equal(ble.UUID16(params.UUID)) {
						continue
					}
					out = append(out, bridge.Attribute{Handle: d.Handle, UUID: d.UUID.String()})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

// loadProfile walks the peer's GATT database once per link.
func (l *Link) loadProfile(ctx context.Context) (*ble.Profile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.profile != nil {
		return l.profile, nil
	}

	p, err := l.blocking(ctx, func() (any, error) { return l.client.DiscoverProfile(true) })
	if err != nil {
		return nil, fmt.Errorf("discovering profile of %s: %w", l.addr, err)
	}
	l.profile = p.(*ble.Profile) //nolint:forcetypeassert // set by the closure above
	return l.profile, nil
}

// characteristic finds the characteristic owning a value handle.
func (l *Link) characteristic(valueHandle uint16) (*ble.Characteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.profile == nil {
		return nil, fmt.Errorf("%w: profile not discovered", bridge.ErrNotFound)
	}
	for _, svc := range l.profile.Services {
		for _, c := range svc.Characteristics {
			if c.ValueHandle == valueHandle {
				return c, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: handle 0x%04x", bridge.ErrNotFound, valueHandle)
}

// Subscribe enables notifications, falling back to indications for
// characteristics that only indicate.
func (l *Link) Subscribe(ctx context.Context, params bridge.SubscribeParams) error {
	c, err := l.characteristic(params.ValueHandle)
	if err != nil {
		return err
	}
	if c.CCCD == nil {
		for _, d := range c.Descriptors {
			if d.Handle == params.CCCHandle {
				c.CCCD = d
			}
		}
	}
	if c.CCCD == nil {
		return fmt.Errorf("%w: no CCC descriptor for 0x%04x", bridge.ErrNotFound, params.ValueHandle)
	}

	ind := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0
	notify := params.Notify
	_, err = l.blocking(ctx, func() (any, error) {
		return nil, l.client.Subscribe(c, ind, func(v []byte) {
			if notify != nil {
				notify(v)
			}
		})
	})
	return err
}

// Unsubscribe disables notifications for a value handle.
func (l *Link) Unsubscribe(ctx context.Context, valueHandle uint16) error {
	c, err := l.characteristic(valueHandle)
	if err != nil {
		return err
	}
	ind := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0
	_, err = l.blocking(ctx, func() (any, error) { return nil, l.client.Unsubscribe(c, ind) })
	return err
}

// Write writes value to the characteristic owning handle. Characteristics
// that only allow write-without-response are written without response.
func (l *Link) Write(ctx context.Context, handle uint16, value []byte) error {
	c, err := l.characteristic(handle)
	if err != nil {
		return err
	}
	noRsp := c.Property&ble.CharWrite == 0 && c.Property&ble.CharWriteNR != 0
	buf := append([]byte(nil), value...)
	_, err = l.blocking(ctx, func() (any, error) { return nil, l.client.WriteCharacteristic(c, buf, noRsp) })
	return err
}

// Disconnected is closed when the connection drops.
func (l *Link) Disconnected() <-chan struct{} { return l.client.Disconnected() }

// Close cancels the connection.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		if err := l.client.ClearSubscriptions(); err != nil && !errors.Is(err, context.Canceled) {
			l.closeErr = err
		}
		if err := l.client.CancelConnection(); err != nil {
			l.closeErr = err
		}
	})
	return l.closeErr
}

// blocking runs a go-ble call that has no context support. If ctx ends
// first the call keeps running in the background and its result is dropped.
func (l *Link) blocking(ctx context.Context, fn func() (any, error)) (any, error) {
	type result struct {
		v   any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.client.Disconnected():
		return nil, bridge.ErrLinkClosed
	}
}
