package ble

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Bridge operation constants.
const (
	// ControlBufferSize is the largest control payload accepted. Larger
	// messages are read off the wire and discarded.
	ControlBufferSize = 128

	// statusQueryTimeout bounds bond lookups during a status republish.
	statusQueryTimeout = 5 * time.Second
)

// Logger is the logging interface used by the bridge components.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the part of the MQTT session the bridge publishes through.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// AttributeRecorder persists what the bridge learned about peer attributes.
// It is optional.
type AttributeRecorder interface {
	RecordSubscription(addr Address, valueHandle, cccHandle uint16)
	RecordNotification(addr Address, valueHandle uint16, value []byte)
}

// TelemetryWriter stores notification values as time series. It is optional.
type TelemetryWriter interface {
	WriteAttributeValue(addr string, handle uint16, value []byte)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// ID identifies the bridge in health messages.
	ID string

	// Version is the software version reported in health messages.
	Version string

	Topics Topics

	// MaxConnections is the pool capacity. Default: 4.
	MaxConnections int

	DialTimeout    time.Duration
	RescanDelay    time.Duration
	WriteTimeout   time.Duration
	HealthInterval time.Duration

	// Central scans for and connects to peers.
	Central Central

	// Bonds lists the peers the bridge may connect to.
	Bonds BondSource

	// MQTTClient publishes state, status and health.
	MQTTClient MQTTClient

	// Logger is optional.
	Logger Logger

	// Recorder, Telemetry, Events and Live are optional sinks.
	// Events receives lifecycle events; Live additionally receives every
	// notification.
	Recorder  AttributeRecorder
	Telemetry TelemetryWriter
	Events    EventSink
	Live      EventSink
}

// DefaultMaxConnections matches the usual controller connection limit.
const DefaultMaxConnections = 4

// Bridge connects bonded peers to the MQTT bus.
//
// It handles:
//   - Scanning for bonded peers and connecting to them one at a time
//   - Discovering notifiable attributes and relaying notifications as
//     retained state
//   - Dispatching control messages as attribute writes
//   - Connection status and health reporting
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id     string
	topics Topics
	mqtt   MQTTClient
	bonds  BondSource

	pool       *Pool
	relay      *Relay
	dispatcher *Dispatcher
	scanner    *Scanner
	health     *HealthReporter

	recorder  AttributeRecorder
	telemetry TelemetryWriter
	events    EventSink
	live      EventSink

	notifications atomic.Uint64
	writes        atomic.Uint64
	writesFailed  atomic.Uint64
	rejected      atomic.Uint64
	connects      atomic.Uint64
	disconnects   atomic.Uint64

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Central == nil {
		return nil, errors.New("central is required")
	}
	if opts.MQTTClient == nil {
		return nil, errors.New("MQTT client is required")
	}
	if opts.Bonds == nil {
		return nil, errors.New("bond source is required")
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = DefaultMaxConnections
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		id:        opts.ID,
		topics:    opts.Topics,
		mqtt:      opts.MQTTClient,
		bonds:     opts.Bonds,
		pool:      NewPool(opts.MaxConnections),
		recorder:  opts.Recorder,
		telemetry: opts.Telemetry,
		events:    opts.Events,
		live:      opts.Live,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.relay = NewRelay(b.pool, opts.MQTTClient, opts.Topics)
	b.relay.AddObserver(b)
	b.relay.SetSubscriptionObserver(b)

	b.dispatcher = NewDispatcher(b.pool, opts.WriteTimeout)
	b.dispatcher.SetObserver(b)

	scanner, err := NewScanner(ScannerOptions{
		Central:     opts.Central,
		Pool:        b.pool,
		Bonds:       opts.Bonds,
		OnConnect:   b.peerConnected,
		DialTimeout: opts.DialTimeout,
		RescanDelay: opts.RescanDelay,
		Logger:      opts.Logger,
	})
	if err != nil {
		ctxCancel()
		return nil, err
	}
	b.scanner = scanner

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.ID,
		Version:   opts.Version,
		Topics:    opts.Topics,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Source:    b,
	})

	if opts.Logger != nil {
		b.relay.SetLogger(opts.Logger)
		b.dispatcher.SetLogger(opts.Logger)
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// SetLogger sets the logger for the bridge and its components.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.relay.SetLogger(logger)
	b.dispatcher.SetLogger(logger)
	b.scanner.SetLogger(logger)
	b.health.SetLogger(logger)
}

// Start begins scanning and health reporting. It returns immediately.
func (b *Bridge) Start(ctx context.Context) error {
	select {
	case <-b.done:
		return errors.New("bridge stopped")
	default:
	}

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		select {
		case <-ctx.Done():
			b.ctxCancel()
		case <-b.done:
		}
	}()
	go func() {
		defer b.wg.Done()
		if err := b.scanner.Run(b.ctx); err != nil {
			b.logError("scanner stopped", err)
		}
	}()

	b.health.Start(b.ctx)

	b.logInfo("bridge started",
		"bridge_id", b.id,
		"max_connections", b.pool.Capacity(),
		"control_topic", b.topics.ControlFilter())
	return nil
}

// Stop disconnects every peer and waits for background work to finish.
// Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()

		for _, link := range b.pool.Links() {
			_ = link.Close() //nolint:errcheck // peer teardown is best effort
		}

		b.wg.Wait()
		b.dispatcher.Wait()
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// Pool returns the connection pool.
func (b *Bridge) Pool() *Pool {
	return b.pool
}

// Scanner returns the scan controller.
func (b *Bridge) Scanner() *Scanner {
	return b.scanner
}

// HealthLWT returns the last-will topic and payload for the MQTT session.
func (b *Bridge) HealthLWT() (string, []byte, error) {
	payload, err := b.health.LWTPayload()
	return b.health.LWTTopic(), payload, err
}

// peerConnected owns a bound slot from link-up to teardown.
func (b *Bridge) peerConnected(_ context.Context, ref SlotRef, link Link) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.servePeer(ref, link)
	}()
}

func (b *Bridge) servePeer(ref SlotRef, link Link) {
	addr := link.Address()
	b.connects.Add(1)
	b.logInfo("peer connected", "address", addr.String(), "slot", ref.Index())
	b.publishStatus(addr, true)
	b.emit(Event{Type: EventConnected, Address: addr.String()}, true)

	rounds, err := RunDiscovery(b.ctx, link, peerDiscovery{b: b, ref: ref, addr: addr})
	detail := fmt.Sprintf("%d requests", rounds)
	if err != nil {
		detail = fmt.Sprintf("%d requests: %v", rounds, err)
		b.logWarn("discovery ended with error", "address", addr.String(), "rounds", rounds, "error", err)
	} else {
		b.logInfo("discovery done", "address", addr.String(), "rounds", rounds)
	}
	b.emit(Event{Type: EventDiscoveryDone, Address: addr.String(), Detail: detail}, true)

	// Look for the next peer while this one is served.
	b.scanner.Resume()

	select {
	case <-link.Disconnected():
	case <-b.ctx.Done():
		_ = link.Close() //nolint:errcheck // shutting down
	}

	b.pool.Release(ref)
	b.disconnects.Add(1)
	b.logInfo("peer disconnected", "address", addr.String(), "slot", ref.Index())
	b.publishStatus(addr, false)
	b.emit(Event{Type: EventDisconnected, Address: addr.String()}, true)

	if b.ctx.Err() == nil {
		b.scanner.Resume()
	}
}

// peerDiscovery feeds discovery results of one peer into the pool and relay.
type peerDiscovery struct {
	b    *Bridge
	ref  SlotRef
	addr Address
}

func (p peerDiscovery) DiscoveryProgress(state DiscoveryState, rounds int) {
	_ = p.b.pool.With(p.ref, func(pc *PeerConnection) error { //nolint:errcheck // stale slot is a no-op
		pc.SetDiscovery(state, rounds)
		return nil
	})
}

func (p peerDiscovery) DiscoveredSubscription(ctx context.Context, valueHandle, cccHandle uint16) {
	if err := p.b.relay.Subscribe(ctx, p.ref, valueHandle, cccHandle); err != nil {
		p.b.logWarn("subscribe failed",
			"address", p.addr.String(),
			"value_handle", valueHandle,
			"class", Classify(err).String(),
			"error", err)
	}
}

// Control decodes a control message and dispatches the write. It is the
// MQTT handler for the control filter; rejections are logged here and do
// not affect the broker acknowledgement.
func (b *Bridge) Control(topic string, payload []byte) error {
	if len(payload) > ControlBufferSize {
		return b.reject(topic, fmt.Errorf("%w: %d bytes exceeds control buffer", ErrMalformedPayload, len(payload)))
	}
	addr, handle, err := b.topics.ParseControl(topic)
	if err != nil {
		return b.reject(topic, err)
	}
	value, err := DecodeValue(payload)
	if err != nil {
		return b.reject(topic, err)
	}
	if err := b.Write(addr, handle, value); err != nil {
		return b.reject(topic, err)
	}
	return nil
}

// Write dispatches an attribute write to a connected peer.
func (b *Bridge) Write(addr Address, handle uint16, value []byte) error {
	if err := b.dispatcher.Dispatch(addr, handle, value); err != nil {
		return err
	}
	b.writes.Add(1)
	return nil
}

// Unsubscribe stops notifications for one attribute of a connected peer.
func (b *Bridge) Unsubscribe(ctx context.Context, addr Address, valueHandle uint16) error {
	ref, err := b.pool.FindByAddress(addr)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}
	return b.relay.Unsubscribe(ctx, ref, valueHandle)
}

func (b *Bridge) reject(topic string, err error) error {
	b.rejected.Add(1)
	b.logWarn("control message rejected", "topic", topic, "class", Classify(err).String(), "error", err)
	b.emit(Event{Type: EventControlDenied, Detail: fmt.Sprintf("%s: %v", topic, err)}, true)
	return err
}

// PublishStatuses publishes the connected status of every bonded peer and
// of every connected peer, once each. It is the session's on-connect hook.
func (b *Bridge) PublishStatuses(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, statusQueryTimeout)
	defer cancel()

	seen := make(map[Address]bool)
	var order []Address

	bonds, err := b.bonds.Bonds(ctx)
	if err != nil {
		b.logWarn("reading bonds for status publish", "error", err)
	}
	for _, addr := range bonds {
		if _, ok := seen[addr]; !ok {
			seen[addr] = false
			order = append(order, addr)
		}
	}
	for _, st := range b.pool.Snapshot() {
		if _, ok := seen[st.Address]; !ok {
			order = append(order, st.Address)
		}
		seen[st.Address] = true
	}

	for _, addr := range order {
		b.publishStatus(addr, seen[addr])
	}
	b.logDebug("published peer statuses", "count", len(order))

	if err := b.health.PublishNow(); err != nil {
		b.logDebug("health publish failed", "error", err)
	}
}

func (b *Bridge) publishStatus(addr Address, connected bool) {
	payload := StatusDisconnected
	if connected {
		payload = StatusConnected
	}
	topic := b.topics.Connected(addr)
	if err := b.mqtt.Publish(topic, []byte(payload), stateQoS, true); err != nil {
		b.logDebug("status publish failed", "topic", topic, "error", err)
	}
}

// ObserveNotification implements NotificationObserver.
func (b *Bridge) ObserveNotification(addr Address, valueHandle uint16, value []byte) {
	b.notifications.Add(1)
	if b.recorder != nil {
		b.recorder.RecordNotification(addr, valueHandle, value)
	}
	if b.telemetry != nil {
		b.telemetry.WriteAttributeValue(addr.String(), valueHandle, value)
	}
	b.emit(Event{
		Type:    EventNotification,
		Address: addr.String(),
		Handle:  valueHandle,
		Value:   hex.EncodeToString(value),
	}, false)
}

// ObserveSubscription implements SubscriptionObserver.
func (b *Bridge) ObserveSubscription(addr Address, valueHandle, cccHandle uint16) {
	if b.recorder != nil {
		b.recorder.RecordSubscription(addr, valueHandle, cccHandle)
	}
}

// ObserveWrite implements WriteObserver.
func (b *Bridge) ObserveWrite(result WriteResult) {
	if result.Err == nil {
		return
	}
	b.writesFailed.Add(1)
	b.emit(Event{
		Type:    EventWriteFailed,
		Address: result.Address.String(),
		Handle:  result.Handle,
		Value:   hex.EncodeToString(result.Payload),
		Detail:  result.Err.Error(),
	}, true)
}

// emit sends ev to the live sink, and to the event log when persist is set.
func (b *Bridge) emit(ev Event, persist bool) {
	ev.Timestamp = time.Now().UTC()
	if persist && b.events != nil {
		b.events.RecordEvent(ev)
	}
	if b.live != nil {
		b.live.RecordEvent(ev)
	}
}

// PoolStatus implements HealthSource.
func (b *Bridge) PoolStatus() PoolStatus {
	return PoolStatus{
		Capacity:  b.pool.Capacity(),
		Connected: b.pool.BoundCount(),
		Scanner:   b.scanner.State().String(),
	}
}

// Statistics implements HealthSource.
func (b *Bridge) Statistics() Statistics {
	return Statistics{
		NotificationsRelayed: b.notifications.Load(),
		WritesDispatched:     b.writes.Load(),
		WritesFailed:         b.writesFailed.Load(),
		ControlRejected:      b.rejected.Load(),
		Connects:             b.connects.Load(),
		Disconnects:          b.disconnects.Load(),
	}
}

// Peers returns the status of every connected peer.
func (b *Bridge) Peers() []PeerStatus {
	return b.pool.Snapshot()
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	MQTTConnected bool
	Pool          PoolStatus
	Statistics    Statistics
}

// GetMetrics returns current bridge metrics for the API metrics endpoint.
func (b *Bridge) GetMetrics() BridgeMetrics {
	return BridgeMetrics{
		MQTTConnected: b.mqtt.IsConnected(),
		Pool:          b.PoolStatus(),
		Statistics:    b.Statistics(),
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
