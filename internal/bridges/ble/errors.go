package ble

import "errors"

// Domain errors for the BLE bridge package.
var (
	// ErrPoolExhausted is returned by Pool.Allocate when every slot is bound.
	ErrPoolExhausted = errors.New("ble: connection pool exhausted")

	// ErrNotFound is returned when no slot is bound to the given link or address.
	ErrNotFound = errors.New("ble: connection not found")

	// ErrStaleSlot is returned when a SlotRef refers to a slot that has since
	// been released or reallocated.
	ErrStaleSlot = errors.New("ble: stale slot reference")

	// ErrNoFreeSubscription is returned when a slot's subscription table is full.
	ErrNoFreeSubscription = errors.New("ble: no free subscription entry")

	// ErrAlreadySubscribed may be returned by a Link when notifications are
	// already enabled. The relay treats it as success.
	ErrAlreadySubscribed = errors.New("ble: already subscribed")

	// ErrUnknownPeer is returned when a write targets a peer that is not connected.
	ErrUnknownPeer = errors.New("ble: unknown peer")

	// ErrPayloadTooLarge is returned when a write payload exceeds the entry buffer.
	ErrPayloadTooLarge = errors.New("ble: payload too large")

	// ErrBusy is returned when every write entry of a slot is in flight.
	ErrBusy = errors.New("ble: write queue busy")

	// ErrMalformedTopic is returned when a control topic cannot be decoded.
	ErrMalformedTopic = errors.New("ble: malformed topic")

	// ErrMalformedPayload is returned when a control payload is not valid hex.
	ErrMalformedPayload = errors.New("ble: malformed payload")

	// ErrInvalidAddress is returned when a peer address cannot be parsed.
	ErrInvalidAddress = errors.New("ble: invalid address")

	// ErrScanNotIdle is returned when a connection is requested while the
	// scanner is still scanning or already connecting.
	ErrScanNotIdle = errors.New("ble: scanner not idle")

	// ErrLinkClosed is returned by links after the peer disconnected.
	ErrLinkClosed = errors.New("ble: link closed")
)

// ErrorClass groups errors by how the bridge recovers from them.
type ErrorClass int

const (
	// ClassNone is returned for a nil error.
	ClassNone ErrorClass = iota

	// ClassResourceExhausted: a bounded pool is full. The operation is declined
	// and never retried automatically.
	ClassResourceExhausted

	// ClassTransportFailure: a link or bus error. The owning slot or session is
	// torn down and its recovery loop restarts.
	ClassTransportFailure

	// ClassProtocolViolation: a malformed message. Only that message is dropped.
	ClassProtocolViolation

	// ClassLogicError: the operation referenced state that no longer exists.
	ClassLogicError
)

// String returns the class name used in logs and events.
func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassResourceExhausted:
		return "resource_exhausted"
	case ClassTransportFailure:
		return "transport_failure"
	case ClassProtocolViolation:
		return "protocol_violation"
	case ClassLogicError:
		return "logic_error"
	default:
		return "unknown"
	}
}

// Classify maps an error onto the bridge error taxonomy.
// Errors that are not bridge sentinels are treated as transport failures.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrPoolExhausted),
		errors.Is(err, ErrNoFreeSubscription),
		errors.Is(err, ErrBusy):
		return ClassResourceExhausted
	case errors.Is(err, ErrMalformedTopic),
		errors.Is(err, ErrMalformedPayload),
		errors.Is(err, ErrPayloadTooLarge),
		errors.Is(err, ErrInvalidAddress):
		return ClassProtocolViolation
	case errors.Is(err, ErrUnknownPeer),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrStaleSlot),
		errors.Is(err, ErrScanNotIdle):
		return ClassLogicError
	default:
		return ClassTransportFailure
	}
}
