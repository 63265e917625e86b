package ble

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultWriteTimeout bounds one attribute write.
const DefaultWriteTimeout = 10 * time.Second

// WriteResult reports the completion of a dispatched write.
type WriteResult struct {
	Address Address
	Handle  uint16
	Payload []byte
	Err     error
}

// WriteObserver is told about every completed write.
type WriteObserver interface {
	ObserveWrite(result WriteResult)
}

// Dispatcher turns decoded control messages into attribute writes.
//
// Writes are asynchronous: Dispatch reserves an entry in the peer's write
// table and returns. The entry is freed when the write completes, whatever
// the outcome. Failed writes are logged and never retried.
type Dispatcher struct {
	pool    *Pool
	timeout time.Duration

	observer WriteObserver

	wg sync.WaitGroup

	loggerMu sync.RWMutex
	logger   Logger
}

// NewDispatcher creates a dispatcher over pool. A zero timeout uses
// DefaultWriteTimeout.
func NewDispatcher(pool *Pool, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Dispatcher{pool: pool, timeout: timeout}
}

// SetLogger sets the logger.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	defer d.loggerMu.Unlock()
	d.logger = logger
}

// SetObserver sets the completion observer. Call before the first Dispatch.
func (d *Dispatcher) SetObserver(o WriteObserver) {
	d.observer = o
}

// Dispatch starts a write of payload to handle on the peer with addr.
//
// Parameters:
//   - addr: Target peer, must be bound in the pool
//   - handle: Target attribute handle
//   - payload: Raw value, copied before Dispatch returns
//
// Returns:
//   - error: ErrUnknownPeer, ErrPayloadTooLarge or ErrBusy; nil once the
//     write is in flight
func (d *Dispatcher) Dispatch(addr Address, handle uint16, payload []byte) error {
	ref, err := d.pool.FindByAddress(addr)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}

	var (
		link  Link
		entry int
		data  []byte
	)
	err = d.pool.With(ref, func(pc *PeerConnection) error {
		if len(payload) > MaxWritePayload {
			return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), MaxWritePayload)
		}
		entry = pc.freeWrite()
		if entry < 0 {
			return fmt.Errorf("%w: %s has %d writes in flight", ErrBusy, addr, MaxWrites)
		}
		w := &pc.writes[entry]
		w.Handle = handle
		w.Pending = true
		w.length = copy(w.payload[:], payload)
		data = w.Payload()
		link = pc.link
		return nil
	})
	if err != nil {
		if Classify(err) == ClassLogicError {
			return fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
		}
		return err
	}

	d.wg.Add(1)
	go d.write(ref, entry, link, addr, handle, data)
	return nil
}

// write runs one write to completion. The slot may be released meanwhile,
// in which case freeing the entry is a no-op.
func (d *Dispatcher) write(ref SlotRef, entry int, link Link, addr Address, handle uint16, data []byte) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	err := link.Write(ctx, handle, data)
	cancel()

	_ = d.pool.With(ref, func(pc *PeerConnection) error { //nolint:errcheck // stale slot is a no-op
		pc.writes[entry] = WriteRequest{}
		return nil
	})

	if err != nil {
		d.logWarn("attribute write failed", "address", addr.String(), "handle", handle, "error", err)
	} else {
		d.logDebug("attribute written", "address", addr.String(), "handle", handle, "length", len(data))
	}

	if d.observer != nil {
		d.observer.ObserveWrite(WriteResult{Address: addr, Handle: handle, Payload: data, Err: err})
	}
}

// Wait blocks until every dispatched write has completed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) logWarn(msg string, keysAndValues ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logDebug(msg string, keysAndValues ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
