package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-blebridge/internal/infrastructure/config"
)

// State is the session connection state.
type State int

const (
	// StateDisconnected means no broker connection and none in progress.
	StateDisconnected State = iota

	// StateConnecting means a connection attempt is in flight.
	StateConnecting

	// StateConnected means the control subscription is active.
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// DefaultMaxControlPayload is the size of the control message buffer.
// Larger inbound payloads are read and discarded.
const DefaultMaxControlPayload = 128

// controlQoS is the QoS of the control subscription.
const controlQoS = 2

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on paho's router goroutine, one message at a time. The
// broker is acknowledged once the handler returns, whatever it returns.
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// clientFactory builds a paho client for one attempt.
type clientFactory func(opts *pahomqtt.ClientOptions) pahomqtt.Client

// SessionOptions configures a Session.
type SessionOptions struct {
	Config config.MQTTConfig

	// Resolver finds the broker. Defaults to the resolver selected by
	// Config.Broker.Discovery.
	Resolver Resolver

	// ControlFilter is subscribed at QoS 2 on every connect.
	ControlFilter string

	// OnControl receives control messages that fit the buffer.
	OnControl MessageHandler

	// MaxControlPayload defaults to DefaultMaxControlPayload.
	MaxControlPayload int

	// OnConnected runs once per connection, after the control
	// subscription is in place.
	OnConnected func(ctx context.Context)

	// Will is optional.
	Will *Will

	Logger Logger
}

// Session keeps one broker connection alive.
//
// Run owns the connection: it resolves the broker, connects, subscribes the
// control filter and reconnects with a fixed backoff whenever the
// connection drops. Paho's own auto-reconnect is not used.
//
// Thread Safety: Publish, State and IsConnected are safe for concurrent use.
type Session struct {
	cfg         config.MQTTConfig
	resolver    Resolver
	filter      string
	onControl   MessageHandler
	maxPayload  int
	onConnected func(ctx context.Context)
	will        *Will
	newClient   clientFactory

	mu     sync.RWMutex
	client pahomqtt.Client
	state  State

	listeners  []func(State)
	listenerMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewSession validates options. Call Run to connect.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.ControlFilter == "" {
		return nil, fmt.Errorf("%w: control filter is required", ErrInvalidTopic)
	}
	if opts.OnControl == nil {
		return nil, errors.New("mqtt: control handler is required")
	}
	resolver := opts.Resolver
	if resolver == nil {
		r, err := NewResolver(opts.Config.Broker)
		if err != nil {
			return nil, err
		}
		resolver = r
	}
	if opts.Config.Broker.ClientID == "" {
		opts.Config.Broker.ClientID = generatedClientIDPrefix + uuid.NewString()[:8]
	}
	maxPayload := opts.MaxControlPayload
	if maxPayload <= 0 {
		maxPayload = DefaultMaxControlPayload
	}

	return &Session{
		cfg:         opts.Config,
		resolver:    resolver,
		filter:      opts.ControlFilter,
		onControl:   opts.OnControl,
		maxPayload:  maxPayload,
		onConnected: opts.OnConnected,
		will:        opts.Will,
		newClient:   pahomqtt.NewClient,
		logger:      opts.Logger,
	}, nil
}

// SetLogger sets a logger for connection and handler errors.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// OnStateChange registers a listener for state transitions. Listeners are
// called synchronously from the Run goroutine.
func (s *Session) OnStateChange(fn func(State)) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenerMu.Unlock()
}

// ClientID returns the MQTT client identifier used for every attempt.
func (s *Session) ClientID() string {
	return s.cfg.Broker.ClientID
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether the session is connected.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateConnected && s.client != nil && s.client.IsConnected()
}

// HealthCheck verifies the MQTT connection is alive.
func (s *Session) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Run connects and keeps the session up until ctx is cancelled. It
// returns nil after a graceful disconnect.
func (s *Session) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		s.setState(StateConnecting, nil)
		client, lost, err := s.connect(ctx)
		if err != nil {
			s.setState(StateDisconnected, nil)
			if ctx.Err() != nil {
				return nil
			}
			s.logWarn("MQTT connection attempt failed", "error", err, "retry_in", s.backoff().String())
			if !sleepCtx(ctx, s.backoff()) {
				return nil
			}
			continue
		}

		s.setState(StateConnected, client)
		s.logInfo("MQTT connected", "filter", s.filter)
		if s.onConnected != nil {
			s.onConnected(ctx)
		}

		select {
		case <-ctx.Done():
			client.Disconnect(defaultDisconnectQuiesce)
			s.setState(StateDisconnected, nil)
			return nil
		case err := <-lost:
			client.Disconnect(0)
			s.setState(StateDisconnected, nil)
			s.logWarn("MQTT connection lost", "error", err)
		}
	}
}

// connect performs one attempt. On any failure the half-open client is
// torn down immediately.
func (s *Session) connect(ctx context.Context) (pahomqtt.Client, <-chan error, error) {
	broker, err := s.resolver.Resolve(ctx)
	if err != nil {
		return nil, nil, err
	}

	opts := buildClientOptions(s.cfg, broker, s.will)
	lost := make(chan error, 1)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	})

	client := s.newClient(opts)
	if err := waitToken(ctx, client.Connect(), opts.ConnectTimeout); err != nil {
		client.Disconnect(0)
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, broker.URL(), err)
	}

	token := client.Subscribe(s.filter, controlQoS, s.wrapHandler(s.onControl))
	if err := waitToken(ctx, token, defaultPublishTimeout); err != nil {
		client.Disconnect(0)
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, s.filter, err)
	}

	return client, lost, nil
}

// Publish sends a message on the current connection.
//
// Parameters:
//   - topic: The topic to publish to
//   - payload: The message payload
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message
//
// Returns:
//   - error: ErrNotConnected while disconnected, or a wrapped publish error
func (s *Session) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	s.mu.RLock()
	client, state := s.client, s.state
	s.mu.RUnlock()
	if state != StateConnected || client == nil {
		return ErrNotConnected
	}

	token := client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (s *Session) setState(state State, client pahomqtt.Client) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.client = client
	s.mu.Unlock()

	if !changed {
		return
	}
	s.listenerMu.RLock()
	listeners := append([]func(State){}, s.listeners...)
	s.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(state)
	}
}

func (s *Session) backoff() time.Duration {
	if s.cfg.Reconnect.Backoff > 0 {
		return s.cfg.Reconnect.Backoff
	}
	return defaultBackoff
}

// wrapHandler drops oversized payloads and recovers handler panics.
func (s *Session) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				s.logError("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		payload := msg.Payload()
		if len(payload) > s.maxPayload {
			s.logWarn("control payload too large, discarded",
				"topic", msg.Topic(), "size", len(payload), "max", s.maxPayload)
			return
		}

		if err := handler(msg.Topic(), payload); err != nil {
			s.logWarn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}

// waitToken waits for a paho token, a timeout or ctx.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *Session) logInfo(msg string, args ...any) {
	if l := s.getLogger(); l != nil {
		l.Info(msg, args...)
	}
}

func (s *Session) logWarn(msg string, args ...any) {
	if l := s.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

func (s *Session) logError(msg string, args ...any) {
	if l := s.getLogger(); l != nil {
		l.Error(msg, args...)
	}
}
