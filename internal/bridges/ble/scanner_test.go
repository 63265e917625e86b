package ble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type connectRecorder struct {
	mu    sync.Mutex
	links []Link
	refs  []SlotRef
}

func (c *connectRecorder) handle(_ context.Context, ref SlotRef, link Link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs = append(c.refs, ref)
	c.links = append(c.links, link)
}

func (c *connectRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.links)
}

func startScanner(t *testing.T, s *Scanner) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	}
}

var (
	peerA = MustParseAddress("AA:AA:AA:AA:AA:01")
	peerB = MustParseAddress("AA:AA:AA:AA:AA:02")
	peerC = MustParseAddress("AA:AA:AA:AA:AA:03")
)

// ===== Construction =====

func TestNewScanner_RequiresDependencies(t *testing.T) {
	if _, err := NewScanner(ScannerOptions{}); err == nil {
		t.Error("NewScanner() expected error without dependencies")
	}
}

// ===== Scanning =====

func TestScanner_ConnectsOnlyBondedPeers(t *testing.T) {
	central := newFakeCentral()
	central.addPeer(newFakeLink(peerC)) // not bonded
	central.addPeer(newFakeLink(peerA))

	pool := NewPool(4)
	rec := &connectRecorder{}
	s, err := NewScanner(ScannerOptions{
		Central:   central,
		Pool:      pool,
		Bonds:     StaticBonds{peerA},
		OnConnect: rec.handle,
	})
	if err != nil {
		t.Fatalf("NewScanner() error = %v", err)
	}
	stop := startScanner(t, s)
	defer stop()

	if !waitFor(time.Second, func() bool { return rec.count() == 1 }) {
		t.Fatal("bonded peer was not connected")
	}
	for _, d := range central.Dials() {
		if d == peerC {
			t.Error("dialed a peer that is not bonded")
		}
	}
	if _, err := pool.FindByAddress(peerA); err != nil {
		t.Errorf("FindByAddress() error = %v", err)
	}
	if !waitFor(time.Second, func() bool { return s.State() == ScanIdle }) {
		t.Errorf("State() = %v, want idle", s.State())
	}
}

func TestScanner_ResumeFindsNextPeer(t *testing.T) {
	central := newFakeCentral()
	central.addPeer(newFakeLink(peerA))
	central.addPeer(newFakeLink(peerB))

	pool := NewPool(4)
	rec := &connectRecorder{}
	s, _ := NewScanner(ScannerOptions{
		Central:   central,
		Pool:      pool,
		Bonds:     StaticBonds{peerA, peerB},
		OnConnect: rec.handle,
	})
	stop := startScanner(t, s)
	defer stop()

	if !waitFor(time.Second, func() bool { return rec.count() == 1 }) {
		t.Fatal("first peer not connected")
	}
	// No resume yet: the scanner waits for discovery of the first peer.
	time.Sleep(30 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("connected %d peers before resume, want 1", rec.count())
	}

	s.Resume()
	if !waitFor(time.Second, func() bool { return rec.count() == 2 }) {
		t.Fatal("second peer not connected after resume")
	}
	if pool.BoundCount() != 2 {
		t.Errorf("BoundCount() = %d, want 2", pool.BoundCount())
	}

	// A connected peer is never dialed twice.
	seen := make(map[Address]int)
	for _, d := range central.Dials() {
		seen[d]++
	}
	if seen[peerA] != 1 || seen[peerB] != 1 {
		t.Errorf("dials = %v", seen)
	}
}

func TestScanner_PoolExhaustedStaysIdle(t *testing.T) {
	central := newFakeCentral()
	central.addPeer(newFakeLink(peerA))
	central.addPeer(newFakeLink(peerB))

	pool := NewPool(1)
	rec := &connectRecorder{}
	s, _ := NewScanner(ScannerOptions{
		Central:     central,
		Pool:        pool,
		Bonds:       StaticBonds{peerA, peerB},
		OnConnect:   rec.handle,
		RescanDelay: 5 * time.Millisecond,
	})
	stop := startScanner(t, s)
	defer stop()

	if !waitFor(time.Second, func() bool { return rec.count() == 1 }) {
		t.Fatal("first peer not connected")
	}
	s.Resume()

	if !waitFor(time.Second, func() bool {
		central.mu.Lock()
		defer central.mu.Unlock()
		return central.scans >= 2
	}) {
		t.Fatal("second scan did not start")
	}
	time.Sleep(50 * time.Millisecond)

	central.mu.Lock()
	scans := central.scans
	central.mu.Unlock()
	if scans != 2 {
		t.Errorf("scans = %d, want 2 (no automatic rescan while the pool is full)", scans)
	}
	if len(central.Dials()) != 1 {
		t.Errorf("dials = %d, want 1", len(central.Dials()))
	}
	if s.State() != ScanIdle {
		t.Errorf("State() = %v, want idle", s.State())
	}
}

func TestScanner_DialFailureReleasesAndRetries(t *testing.T) {
	central := newFakeCentral()
	central.addPeer(newFakeLink(peerA))
	central.dialErr[peerA] = errors.New("connection failed to be established")

	pool := NewPool(1)
	rec := &connectRecorder{}
	s, _ := NewScanner(ScannerOptions{
		Central:   central,
		Pool:      pool,
		Bonds:     StaticBonds{peerA},
		OnConnect: rec.handle,
	})
	stop := startScanner(t, s)
	defer stop()

	if !waitFor(time.Second, func() bool { return len(central.Dials()) >= 3 }) {
		t.Fatalf("dials = %d, want retries after failure", len(central.Dials()))
	}
	if rec.count() != 0 {
		t.Error("connect handler called for a failed dial")
	}

	// The slot was released every time, so a real peer can still connect.
	central.mu.Lock()
	delete(central.dialErr, peerA)
	central.mu.Unlock()
	if !waitFor(time.Second, func() bool { return rec.count() == 1 }) {
		t.Fatal("peer not connected after dial errors cleared")
	}
}

func TestScanner_NoBondsRetriesLater(t *testing.T) {
	central := newFakeCentral()
	central.addPeer(newFakeLink(peerA))

	s, _ := NewScanner(ScannerOptions{
		Central:     central,
		Pool:        NewPool(1),
		Bonds:       StaticBonds{},
		OnConnect:   (&connectRecorder{}).handle,
		RescanDelay: 5 * time.Millisecond,
	})
	stop := startScanner(t, s)
	time.Sleep(30 * time.Millisecond)
	stop()

	central.mu.Lock()
	defer central.mu.Unlock()
	if central.scans != 0 {
		t.Errorf("scans = %d, want 0 without bonds", central.scans)
	}
}

// ===== Allocation Precondition =====

func TestScanner_AllocateRequiresIdle(t *testing.T) {
	pool := NewPool(2)
	s, _ := NewScanner(ScannerOptions{
		Central:   newFakeCentral(),
		Pool:      pool,
		Bonds:     StaticBonds{peerA},
		OnConnect: (&connectRecorder{}).handle,
	})

	for _, state := range []ScanState{ScanScanning, ScanConnecting} {
		s.setState(state)
		if _, err := s.Allocate(); !errors.Is(err, ErrScanNotIdle) {
			t.Errorf("Allocate() in %v error = %v, want ErrScanNotIdle", state, err)
		}
	}

	s.setState(ScanIdle)
	if _, err := s.Allocate(); err != nil {
		t.Fatalf("Allocate() in idle error = %v", err)
	}
	if s.State() != ScanConnecting {
		t.Errorf("State() after Allocate = %v, want connecting", s.State())
	}
}

func TestScanner_ResumeCoalesces(t *testing.T) {
	s, _ := NewScanner(ScannerOptions{
		Central:   newFakeCentral(),
		Pool:      NewPool(1),
		Bonds:     StaticBonds{},
		OnConnect: (&connectRecorder{}).handle,
	})
	for i := 0; i < 5; i++ {
		s.Resume()
	}
	if n := len(s.resume); n != 1 {
		t.Errorf("queued resumes = %d, want 1", n)
	}
}
