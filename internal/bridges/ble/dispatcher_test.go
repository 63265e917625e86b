package ble

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

type writeResults struct {
	mu      sync.Mutex
	results []WriteResult
}

func (w *writeResults) ObserveWrite(r WriteResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.results = append(w.results, r)
}

func (w *writeResults) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.results)
}

func pendingWrites(t *testing.T, pool *Pool, ref SlotRef) int {
	t.Helper()
	n := -1
	_ = pool.With(ref, func(pc *PeerConnection) error {
		n = pc.PendingWrites()
		return nil
	})
	return n
}

// ===== Dispatch =====

func TestDispatcher_Write(t *testing.T) {
	pool := NewPool(1)
	d := NewDispatcher(pool, time.Second)
	obs := &writeResults{}
	d.SetObserver(obs)
	ref, link := boundPeer(t, pool, testAddr)

	payload := []byte{0x01}
	if err := d.Dispatch(testAddr, 0x0020, payload); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	payload[0] = 0xff // caller reuses its buffer immediately
	d.Wait()

	writes := link.Writes()
	if len(writes) != 1 || writes[0].Handle != 0x0020 || !bytes.Equal(writes[0].Value, []byte{0x01}) {
		t.Errorf("writes = %+v", writes)
	}
	if n := pendingWrites(t, pool, ref); n != 0 {
		t.Errorf("pending writes after completion = %d, want 0", n)
	}
	if obs.count() != 1 {
		t.Errorf("observer saw %d results, want 1", obs.count())
	}
}

func TestDispatcher_Errors(t *testing.T) {
	pool := NewPool(1)
	d := NewDispatcher(pool, time.Second)
	boundPeer(t, pool, testAddr)

	tests := []struct {
		name    string
		addr    Address
		payload []byte
		wantErr error
	}{
		{"unknown peer", MustParseAddress("11:22:33:44:55:66"), []byte{1}, ErrUnknownPeer},
		{"six bytes", testAddr, []byte{1, 2, 3, 4, 5, 6}, ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := d.Dispatch(tt.addr, 0x0020, tt.payload); !errors.Is(err, tt.wantErr) {
				t.Errorf("Dispatch() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := d.Dispatch(testAddr, 0x0020, []byte{1, 2, 3, 4, 5}); err != nil {
		t.Errorf("Dispatch() with 5 bytes error = %v", err)
	}
	d.Wait()
}

func TestDispatcher_BusyThenReuse(t *testing.T) {
	pool := NewPool(1)
	d := NewDispatcher(pool, 5*time.Second)
	ref, link := boundPeer(t, pool, testAddr)
	gate := make(chan struct{})
	link.writeGate = gate

	for i := 0; i < MaxWrites; i++ {
		if err := d.Dispatch(testAddr, 0x0020, []byte{byte(i)}); err != nil {
			t.Fatalf("Dispatch() #%d error = %v", i, err)
		}
	}

	err := d.Dispatch(testAddr, 0x0020, []byte{0x09})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("Dispatch() with all entries pending error = %v, want ErrBusy", err)
	}
	if Classify(err) != ClassResourceExhausted {
		t.Errorf("Classify(ErrBusy) = %v", Classify(err))
	}

	close(gate)
	d.Wait()

	if n := pendingWrites(t, pool, ref); n != 0 {
		t.Fatalf("pending writes = %d, want 0", n)
	}
	if err := d.Dispatch(testAddr, 0x0020, []byte{0x0a}); err != nil {
		t.Errorf("Dispatch() after completions error = %v", err)
	}
	d.Wait()
	if n := len(link.Writes()); n != MaxWrites+1 {
		t.Errorf("writes = %d, want %d", n, MaxWrites+1)
	}
}

func TestDispatcher_FailedWriteFreesEntry(t *testing.T) {
	pool := NewPool(1)
	d := NewDispatcher(pool, time.Second)
	obs := &writeResults{}
	d.SetObserver(obs)
	ref, link := boundPeer(t, pool, testAddr)
	link.writeErr = errors.New("write not permitted")

	for i := 0; i < MaxWrites*2; i++ {
		if err := d.Dispatch(testAddr, 0x0020, []byte{1}); err != nil {
			t.Fatalf("Dispatch() #%d error = %v", i, err)
		}
		d.Wait()
	}

	if n := pendingWrites(t, pool, ref); n != 0 {
		t.Errorf("pending writes = %d, want 0", n)
	}
	// Failures are never retried.
	if n := len(link.Writes()); n != MaxWrites*2 {
		t.Errorf("link writes = %d, want %d", n, MaxWrites*2)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	for _, r := range obs.results {
		if r.Err == nil {
			t.Error("observer result missing error")
		}
	}
}

func TestDispatcher_CompletionAfterRelease(t *testing.T) {
	pool := NewPool(1)
	d := NewDispatcher(pool, 5*time.Second)
	ref, link := boundPeer(t, pool, testAddr)
	gate := make(chan struct{})
	link.writeGate = gate

	if err := d.Dispatch(testAddr, 0x0020, []byte{1}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	<-link.writeSeen

	pool.Release(ref)
	newRef, newLink := boundPeer(t, pool, MustParseAddress("11:22:33:44:55:66"))
	newLink.writeGate = make(chan struct{})
	if err := d.Dispatch(newLink.addr, 0x0030, []byte{2}); err != nil {
		t.Fatalf("Dispatch() to new tenant error = %v", err)
	}
	<-newLink.writeSeen

	close(gate)
	if !waitFor(time.Second, func() bool { return len(link.Writes()) == 1 }) {
		t.Fatal("old write did not complete")
	}
	time.Sleep(10 * time.Millisecond)

	// The late completion must not free the new tenant's entry.
	if n := pendingWrites(t, pool, newRef); n != 1 {
		t.Errorf("new tenant pending writes = %d, want 1", n)
	}

	close(newLink.writeGate)
	d.Wait()
}

func TestDispatcher_SameHandleConcurrently(t *testing.T) {
	pool := NewPool(1)
	d := NewDispatcher(pool, 5*time.Second)
	ref, link := boundPeer(t, pool, testAddr)
	gate := make(chan struct{})
	link.writeGate = gate

	for i := 0; i < 2; i++ {
		if err := d.Dispatch(testAddr, 0x0020, []byte{byte(i)}); err != nil {
			t.Fatalf("Dispatch() #%d error = %v", i, err)
		}
	}
	if n := pendingWrites(t, pool, ref); n != 2 {
		t.Errorf("pending writes = %d, want 2", n)
	}
	close(gate)
	d.Wait()
}
