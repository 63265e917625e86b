package ble

import (
	"context"
	"fmt"
)

// Attribute handle bounds.
const (
	// MinHandle is the first valid attribute handle.
	MinHandle uint16 = 0x0001

	// MaxHandle is the last attribute handle. It also terminates discovery
	// ranges and is never accepted as a control target.
	MaxHandle uint16 = 0xFFFF

	// CCCDescriptorUUID is the 16-bit UUID of the Client Characteristic
	// Configuration descriptor.
	CCCDescriptorUUID uint16 = 0x2902
)

// Property is the characteristic properties bit field.
type Property uint8

// Characteristic property bits.
const (
	PropBroadcast   Property = 0x01
	PropRead        Property = 0x02
	PropWriteNoResp Property = 0x04
	PropWrite       Property = 0x08
	PropNotify      Property = 0x10
	PropIndicate    Property = 0x20
)

// Has reports whether every bit in p2 is set.
func (p Property) Has(p2 Property) bool {
	return p&p2 == p2
}

// HandleRange is an inclusive attribute handle range.
type HandleRange struct {
	Start uint16
	End   uint16
}

// FullRange covers every attribute on a peer.
func FullRange() HandleRange {
	return HandleRange{Start: MinHandle, End: MaxHandle}
}

// Contains reports whether h lies inside the range.
func (r HandleRange) Contains(h uint16) bool {
	return h >= r.Start && h <= r.End
}

// String renders the range as "0x0001-0xffff".
func (r HandleRange) String() string {
	return fmt.Sprintf("0x%04x-0x%04x", r.Start, r.End)
}

// DiscoverKind selects what a discovery request enumerates.
type DiscoverKind int

const (
	// DiscoverCharacteristics enumerates characteristic declarations.
	DiscoverCharacteristics DiscoverKind = iota

	// DiscoverDescriptors enumerates descriptors.
	DiscoverDescriptors
)

// String returns the kind name.
func (k DiscoverKind) String() string {
	if k == DiscoverDescriptors {
		return "descriptors"
	}
	return "characteristics"
}

// DiscoverParams describes one discovery request.
type DiscoverParams struct {
	Kind  DiscoverKind
	Range HandleRange

	// UUID filters descriptors by 16-bit type. Zero means no filter.
	UUID uint16
}

// Attribute is a characteristic declaration or descriptor returned by a
// discovery request.
type Attribute struct {
	// Handle is the declaration handle for characteristics and the
	// descriptor handle for descriptors.
	Handle uint16

	// ValueHandle and Properties are only set for characteristics.
	ValueHandle uint16
	Properties  Property

	// UUID is informational, in the canonical string form.
	UUID string
}

// SubscribeParams describes a notification subscription on a link.
type SubscribeParams struct {
	ValueHandle uint16
	CCCHandle   uint16

	// Notify is called for every notification. The slice is only valid for
	// the duration of the call.
	Notify func(value []byte)

	// Ended is called once when the peer or the link ends the subscription.
	// It may be nil.
	Ended func(err error)
}

// Advertisement is what the scanner sees of an advertising peer.
type Advertisement struct {
	Address     Address
	Name        string
	RSSI        int
	Connectable bool
}

// Link is an established connection to one peer.
//
// Calls block until the peer answers or ctx is done. A Link is owned by
// exactly one pool slot.
type Link interface {
	// Address returns the peer address.
	Address() Address

	// Discover performs one discovery round trip and returns the matching
	// attributes in handle order. An empty result means the range holds no
	// more matching attributes.
	Discover(ctx context.Context, params DiscoverParams) ([]Attribute, error)

	// Subscribe enables notifications by writing the CCC descriptor.
	// ErrAlreadySubscribed is treated as success by callers.
	Subscribe(ctx context.Context, params SubscribeParams) error

	// Unsubscribe disables notifications for a value handle.
	Unsubscribe(ctx context.Context, valueHandle uint16) error

	// Write writes value to the attribute handle.
	Write(ctx context.Context, handle uint16, value []byte) error

	// Disconnected is closed when the link goes down.
	Disconnected() <-chan struct{}

	// Close tears the link down. It is safe to call more than once.
	Close() error
}

// Central is the local controller role: scanning and connection setup.
type Central interface {
	// Scan reports advertisements to handler until ctx is done. Only one
	// scan runs at a time.
	Scan(ctx context.Context, handler func(Advertisement)) error

	// Dial connects to a peer. Scanning must be stopped first.
	Dial(ctx context.Context, addr Address) (Link, error)
}

// BondSource lists the peers the bridge is allowed to connect to.
type BondSource interface {
	Bonds(ctx context.Context) ([]Address, error)
}

// StaticBonds is a fixed bond list.
type StaticBonds []Address

// Bonds returns a copy of the list.
func (s StaticBonds) Bonds(context.Context) ([]Address, error) {
	out := make([]Address, len(s))
	copy(out, s)
	return out, nil
}
