package ble

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-blebridge/internal/infrastructure/config"
)

// Per-slot table sizes.
const (
	MaxSubscriptions = config.MaxSubscriptionsPerPeer
	MaxWrites        = config.MaxWritesPerPeer
	MaxWritePayload  = config.MaxWritePayload
)

// SlotRef identifies one tenancy of a pool slot.
//
// The generation changes every time the slot is released, so a ref held by
// a late callback no longer resolves after the peer went away. The zero
// value never resolves.
type SlotRef struct {
	index int
	gen   uint32
}

// Index returns the slot index.
func (r SlotRef) Index() int { return r.index }

// Valid reports whether the ref was issued by a pool.
func (r SlotRef) Valid() bool { return r.gen != 0 }

// String renders the ref as "slot 2 gen 7".
func (r SlotRef) String() string {
	return fmt.Sprintf("slot %d gen %d", r.index, r.gen)
}

// Subscription is one notification subscription of a peer.
type Subscription struct {
	ValueHandle uint16
	CCCHandle   uint16
	Active      bool
}

// WriteRequest is one in-flight write of a peer.
type WriteRequest struct {
	Handle  uint16
	Pending bool

	payload [MaxWritePayload]byte
	length  int
}

// Payload returns a copy of the bytes being written.
func (w *WriteRequest) Payload() []byte {
	out := make([]byte, w.length)
	copy(out, w.payload[:w.length])
	return out
}

// PeerConnection is the state of one bound slot.
//
// It is only reachable through Pool.With, which holds the pool mutex.
// Callbacks must not block.
type PeerConnection struct {
	ref         SlotRef
	link        Link
	addr        Address
	connectedAt time.Time

	discovery DiscoveryState
	rounds    int

	subs   [MaxSubscriptions]Subscription
	writes [MaxWrites]WriteRequest
}

// Ref returns the slot reference.
func (pc *PeerConnection) Ref() SlotRef { return pc.ref }

// Link returns the bound link, nil while dialing.
func (pc *PeerConnection) Link() Link { return pc.link }

// Address returns the peer address.
func (pc *PeerConnection) Address() Address { return pc.addr }

// SetDiscovery records the discovery cursor for status reporting.
func (pc *PeerConnection) SetDiscovery(state DiscoveryState, rounds int) {
	pc.discovery = state
	pc.rounds = rounds
}

// subscriptionIndex returns the entry for valueHandle, or -1.
func (pc *PeerConnection) subscriptionIndex(valueHandle uint16) int {
	for i := range pc.subs {
		if pc.subs[i].Active && pc.subs[i].ValueHandle == valueHandle {
			return i
		}
	}
	return -1
}

// freeSubscription returns the first inactive entry, or -1.
func (pc *PeerConnection) freeSubscription() int {
	for i := range pc.subs {
		if !pc.subs[i].Active {
			return i
		}
	}
	return -1
}

// freeWrite returns the first entry that is not pending, or -1.
func (pc *PeerConnection) freeWrite() int {
	for i := range pc.writes {
		if !pc.writes[i].Pending {
			return i
		}
	}
	return -1
}

// ActiveSubscriptions returns the number of active subscriptions.
func (pc *PeerConnection) ActiveSubscriptions() int {
	n := 0
	for i := range pc.subs {
		if pc.subs[i].Active {
			n++
		}
	}
	return n
}

// PendingWrites returns the number of writes in flight.
func (pc *PeerConnection) PendingWrites() int {
	n := 0
	for i := range pc.writes {
		if pc.writes[i].Pending {
			n++
		}
	}
	return n
}

type slot struct {
	gen       uint32
	allocated bool
	conn      PeerConnection
}

// Pool is the fixed-capacity table of peer connections.
//
// A single mutex guards every slot together with its subscriptions and
// writes. Link calls are never made while it is held.
type Pool struct {
	mu    sync.Mutex
	slots []slot
}

// NewPool creates a pool with the given number of slots.
func NewPool(capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	p := &Pool{slots: make([]slot, capacity)}
	for i := range p.slots {
		p.slots[i].gen = 1
	}
	return p
}

// Capacity returns the number of slots.
func (p *Pool) Capacity() int {
	return len(p.slots)
}

// Allocate reserves the first free slot.
//
// The slot is allocated but not yet bound; Bind attaches the link once the
// dial succeeds. Release must be called if it fails.
func (p *Pool) Allocate() (SlotRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.slots {
		s := &p.slots[i]
		if s.allocated {
			continue
		}
		s.allocated = true
		ref := SlotRef{index: i, gen: s.gen}
		s.conn = PeerConnection{ref: ref}
		return ref, nil
	}
	return SlotRef{}, ErrPoolExhausted
}

// Bind attaches an established link to an allocated slot.
func (p *Pool) Bind(ref SlotRef, link Link) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.lookup(ref)
	if err != nil {
		return err
	}
	s.conn.link = link
	s.conn.addr = link.Address()
	s.conn.connectedAt = time.Now()
	s.conn.discovery = InitialDiscoveryState()
	return nil
}

// Release frees a slot and clears everything it held, including its
// subscriptions and in-flight writes. Releasing a stale ref is a no-op.
func (p *Pool) Release(ref SlotRef) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.lookup(ref)
	if err != nil {
		return
	}
	s.allocated = false
	s.conn = PeerConnection{}
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
}

// Find returns the slot bound to link.
func (p *Pool) Find(link Link) (SlotRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.slots {
		s := &p.slots[i]
		if s.allocated && s.conn.link != nil && s.conn.link == link {
			return s.conn.ref, nil
		}
	}
	return SlotRef{}, ErrNotFound
}

// FindByAddress returns the slot bound to the peer with addr.
func (p *Pool) FindByAddress(addr Address) (SlotRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.slots {
		s := &p.slots[i]
		if s.allocated && s.conn.link != nil && s.conn.addr == addr {
			return s.conn.ref, nil
		}
	}
	return SlotRef{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
}

// With runs fn on the slot's connection while holding the pool mutex.
// It returns ErrStaleSlot if ref no longer names the slot's tenant.
func (p *Pool) With(ref SlotRef, fn func(pc *PeerConnection) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.lookup(ref)
	if err != nil {
		return err
	}
	return fn(&s.conn)
}

// BoundCount returns the number of slots with a live link.
func (p *Pool) BoundCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for i := range p.slots {
		if p.slots[i].allocated && p.slots[i].conn.link != nil {
			n++
		}
	}
	return n
}

// Links returns the bound links. Used on shutdown.
func (p *Pool) Links() []Link {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Link
	for i := range p.slots {
		if p.slots[i].allocated && p.slots[i].conn.link != nil {
			out = append(out, p.slots[i].conn.link)
		}
	}
	return out
}

// lookup resolves ref. Caller must hold p.mu.
func (p *Pool) lookup(ref SlotRef) (*slot, error) {
	if !ref.Valid() || ref.index < 0 || ref.index >= len(p.slots) {
		return nil, fmt.Errorf("%w: %s", ErrStaleSlot, ref)
	}
	s := &p.slots[ref.index]
	if !s.allocated || s.gen != ref.gen {
		return nil, fmt.Errorf("%w: %s", ErrStaleSlot, ref)
	}
	return s, nil
}

// PeerStatus is a point-in-time view of a bound slot.
type PeerStatus struct {
	Slot            int                `json:"slot"`
	Address         Address            `json:"address"`
	ConnectedAt     time.Time          `json:"connected_at"`
	Discovery       string             `json:"discovery"`
	DiscoveryRounds int                `json:"discovery_rounds"`
	Subscriptions   []SubscriptionInfo `json:"subscriptions"`
	PendingWrites   int                `json:"pending_writes"`
}

// SubscriptionInfo describes an active subscription in PeerStatus.
type SubscriptionInfo struct {
	ValueHandle uint16 `json:"value_handle"`
	CCCHandle   uint16 `json:"ccc_handle"`
}

// Snapshot returns the status of every bound slot in slot order.
func (p *Pool) Snapshot() []PeerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PeerStatus, 0, len(p.slots))
	for i := range p.slots {
		s := &p.slots[i]
		if !s.allocated || s.conn.link == nil {
			continue
		}
		st := PeerStatus{
			Slot:            i,
			Address:         s.conn.addr,
			ConnectedAt:     s.conn.connectedAt,
			Discovery:       describeDiscovery(s.conn.discovery),
			DiscoveryRounds: s.conn.rounds,
			Subscriptions:   []SubscriptionInfo{},
			PendingWrites:   s.conn.PendingWrites(),
		}
		for _, sub := range s.conn.subs {
			if sub.Active {
				st.Subscriptions = append(st.Subscriptions, SubscriptionInfo{
					ValueHandle: sub.ValueHandle,
					CCCHandle:   sub.CCCHandle,
				})
			}
		}
		out = append(out, st)
	}
	return out
}
