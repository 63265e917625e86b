package peersim

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

// DefaultBaseHandle is where the primary service declaration sits.
const DefaultBaseHandle uint16 = 0x0010

// CharacteristicDef declares one characteristic of a simulated service.
type CharacteristicDef struct {
	UUID       uuid.UUID
	Properties ble.Property

	// Write handles a write to the value handle. Nil makes the
	// characteristic read-only.
	Write func(value []byte) error
}

type characteristic struct {
	def         CharacteristicDef
	declHandle  uint16
	valueHandle uint16
	cccHandle   uint16
}

// Peripheral is a simulated GATT server with a single primary service. It
// accepts one connection at a time.
type Peripheral struct {
	addr    ble.Address
	name    string
	service uuid.UUID
	chars   []characteristic

	mu   sync.Mutex
	link *Link
}

// NewPeripheral lays out a service starting at base.
func NewPeripheral(addr ble.Address, name string, service uuid.UUID, base uint16, defs []CharacteristicDef) *Peripheral {
	p := &Peripheral{addr: addr, name: name, service: service}
	h := base + 1
	for _, def := range defs {
		p.chars = append(p.chars, characteristic{
			def:         def,
			declHandle:  h,
			valueHandle: h + 1,
			cccHandle:   h + 2,
		})
		h += 3
	}
	return p
}

// Address returns the peripheral address.
func (p *Peripheral) Address() ble.Address { return p.addr }

// Name returns the advertised local name.
func (p *Peripheral) Name() string { return p.name }

// ValueHandle returns the value handle of the characteristic with the given
// UUID, or 0.
func (p *Peripheral) ValueHandle(id uuid.UUID) uint16 {
	if c := p.byUUID(id); c != nil {
		return c.valueHandle
	}
	return 0
}

// Connected reports whether a central holds the connection.
func (p *Peripheral) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.link != nil
}

// connect opens a new link. Only one connection is accepted.
func (p *Peripheral) connect() (*Link, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.link != nil {
		return nil, fmt.Errorf("%w: %s already connected", ErrNotConnectable, p.addr)
	}
	p.link = newLink(p)
	return p.link, nil
}

func (p *Peripheral) detach(l *Link) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.link == l {
		p.link = nil
	}
}

// Disconnect drops the current connection from the peripheral side.
func (p *Peripheral) Disconnect() {
	p.mu.Lock()
	l := p.link
	p.mu.Unlock()
	if l != nil {
		_ = l.Close() //nolint:errcheck // simulated link close never fails
	}
}

// Notify sends value to the connected central if it enabled notifications
// for the characteristic. Nothing is sent while disconnected.
func (p *Peripheral) Notify(id uuid.UUID, value []byte) {
	c := p.byUUID(id)
	if c == nil {
		return
	}
	p.mu.Lock()
	l := p.link
	p.mu.Unlock()
	if l != nil {
		l.deliver(c.valueHandle, value)
	}
}

func (p *Peripheral) byUUID(id uuid.UUID) *characteristic {
	for i := range p.chars {
		if p.chars[i].def.UUID == id {
			return &p.chars[i]
		}
	}
	return nil
}

func (p *Peripheral) byValueHandle(h uint16) *characteristic {
	for i := range p.chars {
		if p.chars[i].valueHandle == h {
			return &p.chars[i]
		}
	}
	return nil
}

func (p *Peripheral) advertisement() ble.Advertisement {
	return ble.Advertisement{Address: p.addr, Name: p.name, RSSI: -60, Connectable: true}
}

// discover answers a ranged request against the database.
func (p *Peripheral) discover(params ble.DiscoverParams) []ble.Attribute {
	var out []ble.Attribute
	for _, c := range p.chars {
		switch params.Kind {
		case ble.DiscoverCharacteristics:
			if params.Range.Contains(c.declHandle) {
				out = append(out, ble.Attribute{
					Handle:      c.declHandle,
					ValueHandle: c.valueHandle,
					Properties:  c.def.Properties,
					UUID:        c.def.UUID.String(),
				})
			}
		case ble.DiscoverDescriptors:
			if !c.def.Properties.Has(ble.PropNotify) {
				continue
			}
			if params.UUID != 0 && params.UUID != ble.CCCDescriptorUUID {
				continue
			}
			if params.Range.Contains(c.cccHandle) {
				out = append(out, ble.Attribute{Handle: c.cccHandle, UUID: "2902"})
			}
		}
	}
	return out
}

// write applies an ATT write to a value handle.
func (p *Peripheral) write(_ context.Context, handle uint16, value []byte) error {
	c := p.byValueHandle(handle)
	if c == nil {
		return fmt.Errorf("%w: 0x%04x", ErrInvalidHandle, handle)
	}
	if c.def.Write == nil || !(c.def.Properties.Has(ble.PropWrite) || c.def.Properties.Has(ble.PropWriteNoResp)) {
		return fmt.Errorf("%w: 0x%04x", ErrWriteNotPermitted, handle)
	}
	return c.def.Write(value)
}
