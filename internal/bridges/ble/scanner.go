package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Scanner defaults.
const (
	DefaultDialTimeout = 10 * time.Second
	DefaultRescanDelay = 2 * time.Second
)

// ScanState is the scan controller state.
type ScanState int

const (
	// ScanIdle: neither scanning nor connecting. The only state in which a
	// pool slot may be allocated.
	ScanIdle ScanState = iota

	// ScanScanning: looking for a bonded advertiser.
	ScanScanning

	// ScanConnecting: scanning stopped, one dial in progress.
	ScanConnecting
)

// String returns the state name.
func (s ScanState) String() string {
	switch s {
	case ScanIdle:
		return "idle"
	case ScanScanning:
		return "scanning"
	case ScanConnecting:
		return "connecting"
	default:
		return "unknown"
	}
}

// ConnectHandler takes ownership of a freshly bound slot.
type ConnectHandler func(ctx context.Context, ref SlotRef, link Link)

// ScannerOptions configures a Scanner.
type ScannerOptions struct {
	Central Central
	Pool    *Pool
	Bonds   BondSource

	// OnConnect is called for every established link. It must not block;
	// the handler calls Resume when the scanner may look for the next peer.
	OnConnect ConnectHandler

	DialTimeout time.Duration
	RescanDelay time.Duration
	Logger      Logger
}

// Scanner finds bonded peers and connects to them one at a time.
//
// Only one scan or connection attempt runs system-wide. Scanning restarts
// when Resume is called: after a connect failure, after discovery of a new
// peer finished, and after a peer disconnected. When the pool is full the
// scanner stays idle until the next Resume.
type Scanner struct {
	central   Central
	pool      *Pool
	bonds     BondSource
	onConnect ConnectHandler

	dialTimeout time.Duration
	rescanDelay time.Duration

	mu    sync.Mutex
	state ScanState

	resume chan struct{}

	loggerMu sync.RWMutex
	logger   Logger
}

// errScanEnded is returned when a scan stops without finding a peer.
var errScanEnded = errors.New("ble: scan ended without a bonded advertiser")

// NewScanner creates a scanner. It does nothing until Run is called.
func NewScanner(opts ScannerOptions) (*Scanner, error) {
	if opts.Central == nil || opts.Pool == nil || opts.Bonds == nil || opts.OnConnect == nil {
		return nil, errors.New("ble: scanner requires central, pool, bonds and connect handler")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.RescanDelay <= 0 {
		opts.RescanDelay = DefaultRescanDelay
	}
	return &Scanner{
		central:     opts.Central,
		pool:        opts.Pool,
		bonds:       opts.Bonds,
		onConnect:   opts.OnConnect,
		dialTimeout: opts.DialTimeout,
		rescanDelay: opts.RescanDelay,
		resume:      make(chan struct{}, 1),
		logger:      opts.Logger,
	}, nil
}

// SetLogger sets the logger.
func (s *Scanner) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// State returns the current scan state.
func (s *Scanner) State() ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Resume asks the scanner to look for the next peer. Calls made while a
// request is already queued are coalesced.
func (s *Scanner) Resume() {
	select {
	case s.resume <- struct{}{}:
	default:
	}
}

// Run scans until ctx is cancelled. It returns nil on cancellation.
func (s *Scanner) Run(ctx context.Context) error {
	s.Resume()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.resume:
		}

		adv, err := s.scanOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil //nolint:nilerr // cancellation is a clean stop
			}
			s.logWarn("scan failed", "error", err)
			s.retryLater(ctx)
			continue
		}

		s.connect(ctx, adv)
	}
}

// scanOnce scans until a bonded, not yet connected peer advertises.
func (s *Scanner) scanOnce(ctx context.Context) (Advertisement, error) {
	bonds, err := s.bonds.Bonds(ctx)
	if err != nil {
		return Advertisement{}, fmt.Errorf("reading bonds: %w", err)
	}
	if len(bonds) == 0 {
		return Advertisement{}, errors.New("ble: no bonded peers")
	}
	bonded := make(map[Address]struct{}, len(bonds))
	for _, b := range bonds {
		bonded[b] = struct{}{}
	}

	s.setState(ScanScanning)
	defer s.setState(ScanIdle)

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan Advertisement, 1)
	handler := func(adv Advertisement) {
		if _, ok := bonded[adv.Address]; !ok {
			return
		}
		if _, err := s.pool.FindByAddress(adv.Address); err == nil {
			return
		}
		select {
		case found <- adv:
			cancel()
		default:
		}
	}

	s.logDebug("scanning", "bonds", len(bonds))
	scanErr := s.central.Scan(scanCtx, handler)

	select {
	case adv := <-found:
		return adv, nil
	default:
	}
	if ctx.Err() != nil {
		return Advertisement{}, ctx.Err()
	}
	if scanErr != nil && !errors.Is(scanErr, context.Canceled) {
		return Advertisement{}, fmt.Errorf("scan: %w", scanErr)
	}
	return Advertisement{}, errScanEnded
}

// Allocate reserves a pool slot for a connection attempt. It is only
// permitted while the scanner is idle.
func (s *Scanner) Allocate() (SlotRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != ScanIdle {
		return SlotRef{}, fmt.Errorf("%w: %s", ErrScanNotIdle, s.state)
	}
	ref, err := s.pool.Allocate()
	if err != nil {
		return SlotRef{}, err
	}
	s.state = ScanConnecting
	return ref, nil
}

// connect dials one peer and hands the bound slot to the connect handler.
func (s *Scanner) connect(ctx context.Context, adv Advertisement) {
	ref, err := s.Allocate()
	if err != nil {
		// Pool full: stay idle until a peer disconnects.
		s.logWarn("cannot connect", "address", adv.Address.String(), "error", err)
		return
	}

	s.logInfo("connecting", "address", adv.Address.String(), "name", adv.Name, "rssi", adv.RSSI)

	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	link, err := s.central.Dial(dialCtx, adv.Address)
	cancel()

	if err == nil {
		err = s.pool.Bind(ref, link)
		if err != nil {
			_ = link.Close() //nolint:errcheck // best effort on bind failure
		}
	}
	if err != nil {
		s.pool.Release(ref)
		s.setState(ScanIdle)
		s.logWarn("connection failed", "address", adv.Address.String(), "error", err)
		if ctx.Err() == nil {
			s.Resume()
		}
		return
	}

	s.setState(ScanIdle)
	s.onConnect(ctx, ref, link)
}

// retryLater waits for the rescan delay before queueing a new scan.
func (s *Scanner) retryLater(ctx context.Context) {
	t := time.NewTimer(s.rescanDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
		s.Resume()
	}
}

func (s *Scanner) setState(state ScanState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Scanner) logInfo(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (s *Scanner) logWarn(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (s *Scanner) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
