package mqtt

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/jackpal/gateway"

	"github.com/nerrad567/gray-logic-blebridge/internal/infrastructure/config"
)

// Broker is a resolved broker endpoint.
type Broker struct {
	Host string
	Port int
	TLS  bool
}

// URL returns the paho broker URL.
func (b Broker) URL() string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(b.Host, strconv.Itoa(b.Port)))
}

// Resolver finds the broker before each connection attempt.
type Resolver interface {
	Resolve(ctx context.Context) (Broker, error)
}

// NewResolver returns the resolver selected by cfg.Discovery.
func NewResolver(cfg config.MQTTBrokerConfig) (Resolver, error) {
	switch cfg.Discovery {
	case config.DiscoveryStatic, "":
		return StaticResolver{Host: cfg.Host, Port: cfg.Port, TLS: cfg.TLS}, nil
	case config.DiscoveryGateway:
		return &GatewayResolver{Port: cfg.Port, TLS: cfg.TLS}, nil
	case config.DiscoveryMDNS:
		return &MDNSResolver{Service: cfg.MDNSService, TLS: cfg.TLS}, nil
	default:
		return nil, fmt.Errorf("%w: unknown discovery %q", ErrResolveFailed, cfg.Discovery)
	}
}

// StaticResolver always returns the configured broker.
type StaticResolver Broker

// Resolve returns the configured broker.
func (r StaticResolver) Resolve(context.Context) (Broker, error) {
	if r.Host == "" {
		return Broker{}, fmt.Errorf("%w: no host configured", ErrResolveFailed)
	}
	return Broker(r), nil
}

// GatewayResolver uses the default IPv4 gateway as the broker host. The
// gateway is looked up on every attempt so DHCP changes are picked up.
type GatewayResolver struct {
	Port int
	TLS  bool

	// Discover overrides gateway.DiscoverGateway.
	Discover func() (net.IP, error)
}

// Resolve looks up the default gateway.
func (r *GatewayResolver) Resolve(context.Context) (Broker, error) {
	discover := r.Discover
	if discover == nil {
		discover = gateway.DiscoverGateway
	}
	gw, err := discover()
	if err != nil {
		return Broker{}, fmt.Errorf("%w: %w", ErrResolveFailed, err)
	}
	if gw == nil || gw.IsUnspecified() {
		return Broker{}, fmt.Errorf("%w: no default gateway", ErrResolveFailed)
	}
	return Broker{Host: gw.String(), Port: r.Port, TLS: r.TLS}, nil
}

// DefaultMDNSTimeout bounds one mDNS browse.
const DefaultMDNSTimeout = 3 * time.Second

// MDNSResolver browses DNS-SD for the broker and takes the first answer.
type MDNSResolver struct {
	Service string
	Domain  string
	TLS     bool
	Timeout time.Duration
}

// Resolve browses until the first instance answers or the timeout expires.
func (r *MDNSResolver) Resolve(ctx context.Context) (Broker, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultMDNSTimeout
	}
	domain := r.Domain
	if domain == "" {
		domain = "local."
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	go func() {
		_ = zeroconf.Browse(ctx, r.Service, domain, entries, removed) //nolint:errcheck // ended by ctx
	}()

	for {
		select {
		case <-ctx.Done():
			return Broker{}, fmt.Errorf("%w: no %s instance answered", ErrResolveFailed, r.Service)
		case <-removed:
		case e, ok := <-entries:
			if !ok {
				return Broker{}, fmt.Errorf("%w: browse ended", ErrResolveFailed)
			}
			if b, ok := brokerFromEntry(e, r.TLS); ok {
				return b, nil
			}
		}
	}
}

func brokerFromEntry(e *zeroconf.ServiceEntry, tls bool) (Broker, bool) {
	if e == nil || e.Port == 0 {
		return Broker{}, false
	}
	switch {
	case len(e.AddrIPv4) > 0:
		return Broker{Host: e.AddrIPv4[0].String(), Port: e.Port, TLS: tls}, true
	case len(e.AddrIPv6) > 0:
		return Broker{Host: e.AddrIPv6[0].String(), Port: e.Port, TLS: tls}, true
	case e.HostName != "":
		return Broker{Host: strings.TrimSuffix(e.HostName, "."), Port: e.Port, TLS: tls}, true
	}
	return Broker{}, false
}
