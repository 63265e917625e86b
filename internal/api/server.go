package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-blebridge/internal/audit"
	"github.com/nerrad567/gray-logic-blebridge/internal/bonds"
	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
	"github.com/nerrad567/gray-logic-blebridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-blebridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds the wait for in-flight requests on Close.
const gracefulShutdownTimeout = 10 * time.Second

// Bridge is the part of the BLE bridge the API drives.
type Bridge interface {
	Peers() []ble.PeerStatus
	GetMetrics() ble.BridgeMetrics
	Write(addr ble.Address, handle uint16, value []byte) error
	Unsubscribe(ctx context.Context, addr ble.Address, valueHandle uint16) error
}

// AttributeLister returns recorded peer attributes.
type AttributeLister interface {
	Attributes(ctx context.Context, addr ble.Address) ([]ble.RecordedAttribute, error)
}

// ConnectionState reports whether the MQTT session is up.
type ConnectionState interface {
	IsConnected() bool
}

// Deps holds the dependencies of the API server. Bridge and Logger are
// required; every other store is optional and its routes answer 503 when
// it is absent.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Bridge     Bridge
	Bonds      bonds.Source
	Events     audit.Repository
	Attributes AttributeLister
	MQTT       ConnectionState
	DB         *sql.DB
	Hub        *Hub
	Version    string
}

// Server is the local status and control API.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	bridge     Bridge
	bonds      bonds.Source
	events     audit.Repository
	attributes AttributeLister
	mqtt       ConnectionState
	db         *sql.DB
	hub        *Hub
	version    string
	startTime  time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a server. It is not listening until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Bridge == nil {
		return nil, errors.New("bridge is required")
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}
	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		bridge:     deps.Bridge,
		bonds:      deps.Bonds,
		events:     deps.Events,
		attributes: deps.Attributes,
		mqtt:       deps.MQTT,
		db:         deps.DB,
		hub:        hub,
		version:    deps.Version,
		startTime:  time.Now(),
	}, nil
}

// Hub returns the WebSocket hub. It is the bridge's live event sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("listening on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}

	var hubCtx context.Context
	hubCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(hubCtx)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server listening", "address", ln.Addr().String())
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}(s.server)
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the server down, waiting for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()
	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
