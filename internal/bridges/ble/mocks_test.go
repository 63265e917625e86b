package ble

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu         sync.Mutex
	published  []mockPublish
	connected  bool
	publishErr error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{connected: true}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  append([]byte(nil), payload...),
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

// PublishedTo returns the payloads published to topic in order.
func (m *MockMQTTClient) PublishedTo(topic string) []string {
	var out []string
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, string(p.Payload))
		}
	}
	return out
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

type fakeDescriptor struct {
	Handle uint16
	UUID   uint16
}

type fakeWrite struct {
	Handle uint16
	Value  []byte
}

// fakeLink is an in-memory peer with a fixed attribute table.
type fakeLink struct {
	addr Address

	mu           sync.Mutex
	chars        []Attribute
	descs        []fakeDescriptor
	requests     []DiscoverParams
	subscribed   map[uint16]SubscribeParams
	subscribeErr error
	discoverErr  error
	writes       []fakeWrite
	writeErr     error

	// ignoreRange makes Discover return every attribute regardless of the
	// requested range, like a misbehaving peer.
	ignoreRange bool

	// writeGate blocks writes until a value is received when non-nil.
	writeGate chan struct{}
	writeSeen chan struct{}

	disconnected chan struct{}
	closeOnce    sync.Once
}

func newFakeLink(addr Address) *fakeLink {
	return &fakeLink{
		addr:         addr,
		subscribed:   make(map[uint16]SubscribeParams),
		writeSeen:    make(chan struct{}, 16),
		disconnected: make(chan struct{}),
	}
}

// addChar adds a characteristic with its declaration at decl and value at
// decl+1. With a non-zero ccc a CCC descriptor is added at that handle.
func (l *fakeLink) addChar(decl uint16, props Property, ccc uint16) *fakeLink {
	l.chars = append(l.chars, Attribute{Handle: decl, ValueHandle: decl + 1, Properties: props})
	if ccc != 0 {
		l.descs = append(l.descs, fakeDescriptor{Handle: ccc, UUID: CCCDescriptorUUID})
	}
	return l
}

// addDescriptor adds a non-CCC descriptor.
func (l *fakeLink) addDescriptor(handle, uuid uint16) *fakeLink {
	l.descs = append(l.descs, fakeDescriptor{Handle: handle, UUID: uuid})
	return l
}

func (l *fakeLink) Address() Address { return l.addr }

func (l *fakeLink) Discover(ctx context.Context, params DiscoverParams) ([]Attribute, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, params)
	if l.discoverErr != nil {
		return nil, l.discoverErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Attribute
	switch params.Kind {
	case DiscoverCharacteristics:
		for _, c := range l.chars {
			if l.ignoreRange || params.Range.Contains(c.Handle) {
				out = append(out, c)
			}
		}
	case DiscoverDescriptors:
		for _, d := range l.descs {
			if !l.ignoreRange && !params.Range.Contains(d.Handle) {
				continue
			}
			if params.UUID != 0 && params.UUID != d.UUID {
				continue
			}
			out = append(out, Attribute{Handle: d.Handle})
		}
	}
	return out, nil
}

func (l *fakeLink) Subscribe(_ context.Context, params SubscribeParams) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subscribeErr != nil {
		return l.subscribeErr
	}
	l.subscribed[params.ValueHandle] = params
	return nil
}

func (l *fakeLink) Unsubscribe(_ context.Context, valueHandle uint16) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subscribed, valueHandle)
	return nil
}

func (l *fakeLink) Write(ctx context.Context, handle uint16, value []byte) error {
	l.mu.Lock()
	gate := l.writeGate
	l.mu.Unlock()

	select {
	case l.writeSeen <- struct{}{}:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, fakeWrite{Handle: handle, Value: append([]byte(nil), value...)})
	return l.writeErr
}

func (l *fakeLink) Disconnected() <-chan struct{} { return l.disconnected }

func (l *fakeLink) Close() error {
	l.closeOnce.Do(func() { close(l.disconnected) })
	return nil
}

func (l *fakeLink) Requests() []DiscoverParams {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]DiscoverParams, len(l.requests))
	copy(out, l.requests)
	return out
}

func (l *fakeLink) Subscribed(valueHandle uint16) (SubscribeParams, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.subscribed[valueHandle]
	return p, ok
}

func (l *fakeLink) Writes() []fakeWrite {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]fakeWrite, len(l.writes))
	copy(out, l.writes)
	return out
}

// notify delivers a notification as the peer would.
func (l *fakeLink) notify(valueHandle uint16, value []byte) bool {
	p, ok := l.Subscribed(valueHandle)
	if !ok {
		return false
	}
	p.Notify(value)
	return true
}

// fakeCentral advertises a fixed set of peers and dials fake links.
type fakeCentral struct {
	mu      sync.Mutex
	adverts []Advertisement
	links   map[Address]*fakeLink
	dialErr map[Address]error
	scans   int
	dials   []Address
}

func newFakeCentral() *fakeCentral {
	return &fakeCentral{
		links:   make(map[Address]*fakeLink),
		dialErr: make(map[Address]error),
	}
}

func (c *fakeCentral) addPeer(link *fakeLink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adverts = append(c.adverts, Advertisement{Address: link.addr, Connectable: true})
	c.links[link.addr] = link
}

func (c *fakeCentral) Scan(ctx context.Context, handler func(Advertisement)) error {
	c.mu.Lock()
	c.scans++
	c.mu.Unlock()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		adverts := append([]Advertisement(nil), c.adverts...)
		c.mu.Unlock()

		for _, adv := range adverts {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if c.closed(adv.Address) {
				continue
			}
			handler(adv)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *fakeCentral) Dial(_ context.Context, addr Address) (Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dials = append(c.dials, addr)
	if err := c.dialErr[addr]; err != nil {
		return nil, err
	}
	link, ok := c.links[addr]
	if !ok {
		return nil, errors.New("no such peer")
	}
	select {
	case <-link.disconnected:
		return nil, errors.New("peer gone")
	default:
	}
	return link, nil
}

// closed reports whether the peer's link has been closed. Closed peers
// stop advertising.
func (c *fakeCentral) closed(addr Address) bool {
	c.mu.Lock()
	link, ok := c.links[addr]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-link.disconnected:
		return true
	default:
		return false
	}
}

func (c *fakeCentral) Dials() []Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Address(nil), c.dials...)
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
