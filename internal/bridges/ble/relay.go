package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Publisher publishes to the MQTT bus.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// NotificationObserver is fed every relayed notification after it has been
// published. Observers must not block.
type NotificationObserver interface {
	ObserveNotification(addr Address, valueHandle uint16, value []byte)
}

// SubscriptionObserver is told about subscriptions as they are made.
type SubscriptionObserver interface {
	ObserveSubscription(addr Address, valueHandle, cccHandle uint16)
}

// stateQoS is the QoS of state and status publishes.
const stateQoS byte = 1

// Relay manages notification subscriptions and republishes notifications
// as retained state.
type Relay struct {
	pool      *Pool
	publisher Publisher
	topics    Topics

	observersMu sync.RWMutex
	observers   []NotificationObserver
	subObserver SubscriptionObserver

	loggerMu sync.RWMutex
	logger   Logger
}

// NewRelay creates a relay over pool publishing through publisher.
func NewRelay(pool *Pool, publisher Publisher, topics Topics) *Relay {
	return &Relay{
		pool:      pool,
		publisher: publisher,
		topics:    topics,
	}
}

// SetLogger sets the logger.
func (r *Relay) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	defer r.loggerMu.Unlock()
	r.logger = logger
}

// AddObserver registers a notification observer.
func (r *Relay) AddObserver(o NotificationObserver) {
	r.observersMu.Lock()
	defer r.observersMu.Unlock()
	r.observers = append(r.observers, o)
}

// SetSubscriptionObserver registers the subscription observer.
func (r *Relay) SetSubscriptionObserver(o SubscriptionObserver) {
	r.observersMu.Lock()
	defer r.observersMu.Unlock()
	r.subObserver = o
}

// Subscribe enables notifications for valueHandle on the slot's peer.
//
// A handle that is already active succeeds without a second entry. A link
// that reports the subscription already exists also counts as success.
//
// Returns ErrNoFreeSubscription when the slot's table is full and
// ErrStaleSlot when the slot has been released.
func (r *Relay) Subscribe(ctx context.Context, ref SlotRef, valueHandle, cccHandle uint16) error {
	var (
		link    Link
		addr    Address
		already bool
	)
	err := r.pool.With(ref, func(pc *PeerConnection) error {
		if pc.subscriptionIndex(valueHandle) >= 0 {
			already = true
			return nil
		}
		idx := pc.freeSubscription()
		if idx < 0 {
			return fmt.Errorf("%w: %s handle 0x%04x", ErrNoFreeSubscription, pc.addr, valueHandle)
		}
		pc.subs[idx] = Subscription{ValueHandle: valueHandle, CCCHandle: cccHandle, Active: true}
		link = pc.link
		addr = pc.addr
		return nil
	})
	if err != nil {
		return err
	}
	if already {
		return nil
	}
	if link == nil {
		r.clear(ref, valueHandle)
		return fmt.Errorf("%w: %s is not bound", ErrStaleSlot, ref)
	}

	err = link.Subscribe(ctx, SubscribeParams{
		ValueHandle: valueHandle,
		CCCHandle:   cccHandle,
		Notify: func(value []byte) {
			r.HandleNotification(ref, valueHandle, value)
		},
		Ended: func(error) {
			r.HandleSubscriptionEnded(ref, valueHandle)
		},
	})
	if err != nil && !errors.Is(err, ErrAlreadySubscribed) {
		r.clear(ref, valueHandle)
		return fmt.Errorf("subscribe %s handle 0x%04x: %w", addr, valueHandle, err)
	}

	r.logDebug("subscribed", "address", addr.String(), "value_handle", valueHandle, "ccc_handle", cccHandle)

	r.observersMu.RLock()
	so := r.subObserver
	r.observersMu.RUnlock()
	if so != nil {
		so.ObserveSubscription(addr, valueHandle, cccHandle)
	}
	return nil
}

// HandleNotification publishes a notification as the retained state of
// the attribute. Notifications for released slots or inactive handles are
// dropped.
func (r *Relay) HandleNotification(ref SlotRef, valueHandle uint16, value []byte) {
	var addr Address
	err := r.pool.With(ref, func(pc *PeerConnection) error {
		if pc.subscriptionIndex(valueHandle) < 0 {
			return fmt.Errorf("%w: handle 0x%04x not subscribed", ErrNotFound, valueHandle)
		}
		addr = pc.addr
		return nil
	})
	if err != nil {
		r.logDebug("notification dropped", "ref", ref.String(), "value_handle", valueHandle, "error", err)
		return
	}

	topic := r.topics.State(addr, valueHandle)
	if err := r.publisher.Publish(topic, EncodeValue(value), stateQoS, true); err != nil {
		r.logDebug("state publish failed", "topic", topic, "error", err)
	}

	r.observersMu.RLock()
	observers := r.observers
	r.observersMu.RUnlock()
	for _, o := range observers {
		o.ObserveNotification(addr, valueHandle, value)
	}
}

// HandleSubscriptionEnded clears the entry for valueHandle. It is a no-op
// on released slots.
func (r *Relay) HandleSubscriptionEnded(ref SlotRef, valueHandle uint16) {
	r.clear(ref, valueHandle)
}

// Unsubscribe disables notifications for valueHandle and clears the entry.
func (r *Relay) Unsubscribe(ctx context.Context, ref SlotRef, valueHandle uint16) error {
	var link Link
	err := r.pool.With(ref, func(pc *PeerConnection) error {
		if pc.subscriptionIndex(valueHandle) < 0 {
			return fmt.Errorf("%w: handle 0x%04x not subscribed", ErrNotFound, valueHandle)
		}
		link = pc.link
		return nil
	})
	if err != nil {
		return err
	}

	r.clear(ref, valueHandle)
	if err := link.Unsubscribe(ctx, valueHandle); err != nil {
		return fmt.Errorf("unsubscribe handle 0x%04x: %w", valueHandle, err)
	}
	return nil
}

func (r *Relay) clear(ref SlotRef, valueHandle uint16) {
	_ = r.pool.With(ref, func(pc *PeerConnection) error { //nolint:errcheck // stale slot is a no-op
		if idx := pc.subscriptionIndex(valueHandle); idx >= 0 {
			pc.subs[idx] = Subscription{}
		}
		return nil
	})
}

func (r *Relay) logDebug(msg string, keysAndValues ...any) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
