package peersim

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

// Link is the central's side of a simulated connection.
type Link struct {
	p *Peripheral

	mu   sync.Mutex
	subs map[uint16]ble.SubscribeParams

	done      chan struct{}
	closeOnce sync.Once
}

func newLink(p *Peripheral) *Link {
	return &Link{
		p:    p,
		subs: make(map[uint16]ble.SubscribeParams),
		done: make(chan struct{}),
	}
}

// Address returns the peer address.
func (l *Link) Address() ble.Address { return l.p.addr }

// Discover answers one ranged discovery request.
func (l *Link) Discover(ctx context.Context, params ble.DiscoverParams) ([]ble.Attribute, error) {
	if err := l.check(ctx); err != nil {
		return nil, err
	}
	return l.p.discover(params), nil
}

// Subscribe enables notifications on a characteristic.
func (l *Link) Subscribe(ctx context.Context, params ble.SubscribeParams) error {
	if err := l.check(ctx); err != nil {
		return err
	}
	c := l.p.byValueHandle(params.ValueHandle)
	if c == nil || !c.def.Properties.Has(ble.PropNotify) || c.cccHandle != params.CCCHandle {
		return fmt.Errorf("%w: no CCC 0x%04x for 0x%04x", ErrInvalidHandle, params.CCCHandle, params.ValueHandle)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[params.ValueHandle]; ok {
		return ble.ErrAlreadySubscribed
	}
	l.subs[params.ValueHandle] = params
	return nil
}

// Unsubscribe disables notifications on a characteristic.
func (l *Link) Unsubscribe(ctx context.Context, valueHandle uint16) error {
	if err := l.check(ctx); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[valueHandle]; !ok {
		return fmt.Errorf("%w: 0x%04x not subscribed", ble.ErrNotFound, valueHandle)
	}
	delete(l.subs, valueHandle)
	return nil
}

// Write performs an ATT write request.
func (l *Link) Write(ctx context.Context, handle uint16, value []byte) error {
	if err := l.check(ctx); err != nil {
		return err
	}
	return l.p.write(ctx, handle, value)
}

// Disconnected is closed when the link goes down.
func (l *Link) Disconnected() <-chan struct{} { return l.done }

// Close tears the link down.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.p.detach(l)
	})
	return nil
}

// EndSubscriptions ends every subscription from the peer side, as a
// peripheral does when it loses its bond state.
func (l *Link) EndSubscriptions(err error) {
	l.mu.Lock()
	subs := l.subs
	l.subs = make(map[uint16]ble.SubscribeParams)
	l.mu.Unlock()

	for _, s := range subs {
		if s.Ended != nil {
			s.Ended(err)
		}
	}
}

func (l *Link) deliver(valueHandle uint16, value []byte) {
	l.mu.Lock()
	s, ok := l.subs[valueHandle]
	l.mu.Unlock()
	if !ok || s.Notify == nil {
		return
	}
	select {
	case <-l.done:
		return
	default:
	}
	s.Notify(append([]byte(nil), value...))
}

func (l *Link) check(ctx context.Context) error {
	select {
	case <-l.done:
		return ble.ErrLinkClosed
	default:
	}
	return ctx.Err()
}
