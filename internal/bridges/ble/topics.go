package ble

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Topic constants for the bridge topic tree.
const (
	// DefaultTopicPrefix is the root of every topic the bridge publishes or
	// subscribes to.
	DefaultTopicPrefix = "bridge"

	// StatusConnected and StatusDisconnected are the payloads of the
	// connected topic.
	StatusConnected    = "01"
	StatusDisconnected = "00"

	// healthSegment names the bridge's own health topic. It starts with an
	// underscore so it can never parse as a device address.
	healthSegment = "_bridge"

	// controlTopicParts is the number of segments in prefix/<addr>/<handle>/set.
	controlTopicParts = 4

	// handleHexDigits is the fixed width of the handle segment.
	handleHexDigits = 4
)

// Topics builds and parses bridge topics under a configurable prefix.
// The zero value uses DefaultTopicPrefix.
//
//	topics := ble.Topics{}
//	topics.State(addr, 0x0012) // "bridge/AA:BB:CC:DD:EE:FF/0012/state"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// State returns the retained state topic for a peer attribute.
//
// Example: bridge/AA:BB:CC:DD:EE:FF/0012/state
func (t Topics) State(addr Address, handle uint16) string {
	return fmt.Sprintf("%s/%s/%04x/state", t.prefix(), addr, handle)
}

// Connected returns the retained connection status topic for a peer.
//
// Example: bridge/AA:BB:CC:DD:EE:FF/connected
func (t Topics) Connected(addr Address) string {
	return fmt.Sprintf("%s/%s/connected", t.prefix(), addr)
}

// ControlFilter returns the subscription filter for inbound writes.
//
// Example: bridge/+/+/set
func (t Topics) ControlFilter() string {
	return t.prefix() + "/+/+/set"
}

// Health returns the topic the bridge publishes its own health to.
//
// Example: bridge/_bridge/health
func (t Topics) Health() string {
	return fmt.Sprintf("%s/%s/health", t.prefix(), healthSegment)
}

// ParseControl decodes a control topic into the target peer and handle.
//
// The topic must have exactly the shape prefix/<addr>/<handle>/set where
// <handle> is four hex digits. Handle 0x0000 and 0xFFFF are rejected.
//
// Returns:
//   - Address: Target peer
//   - uint16: Target attribute handle
//   - error: ErrMalformedTopic or ErrInvalidAddress
func (t Topics) ParseControl(topic string) (Address, uint16, error) {
	prefix := t.prefix() + "/"
	if !strings.HasPrefix(topic, prefix) {
		return Address{}, 0, fmt.Errorf("%w: %q is outside %q", ErrMalformedTopic, topic, t.prefix())
	}

	parts := strings.Split(strings.TrimPrefix(topic, prefix), "/")
	if len(parts) != controlTopicParts-1 || parts[2] != "set" {
		return Address{}, 0, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}

	addr, err := ParseAddress(parts[0])
	if err != nil {
		return Address{}, 0, fmt.Errorf("%w: %w", ErrMalformedTopic, err)
	}

	handle, err := parseHandle(parts[1])
	if err != nil {
		return Address{}, 0, err
	}

	return addr, handle, nil
}

// parseHandle parses a fixed-width four digit hex handle.
func parseHandle(s string) (uint16, error) {
	if len(s) != handleHexDigits {
		return 0, fmt.Errorf("%w: handle %q must be %d hex digits", ErrMalformedTopic, s, handleHexDigits)
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: handle %q is not hexadecimal", ErrMalformedTopic, s)
	}
	if v == 0 || v == uint64(MaxHandle) {
		return 0, fmt.Errorf("%w: handle 0x%04x is reserved", ErrMalformedTopic, v)
	}
	return uint16(v), nil
}

// EncodeValue returns the lowercase hex payload for a raw attribute value.
// A fresh string is returned on every call.
func EncodeValue(value []byte) []byte {
	out := make([]byte, hex.EncodedLen(len(value)))
	hex.Encode(out, value)
	return out
}

// DecodeValue decodes a hex control payload into a new byte slice.
//
// Returns ErrMalformedPayload for empty, odd-length or non-hex input. Length
// limits are enforced by the dispatcher, not here.
func DecodeValue(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrMalformedPayload, len(payload))
	}
	out := make([]byte, hex.DecodedLen(len(payload)))
	if _, err := hex.Decode(out, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return out, nil
}
