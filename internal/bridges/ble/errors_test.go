package ble

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorClass
	}{
		{nil, ClassNone},
		{ErrPoolExhausted, ClassResourceExhausted},
		{fmt.Errorf("%w: slot", ErrNoFreeSubscription), ClassResourceExhausted},
		{ErrBusy, ClassResourceExhausted},
		{ErrMalformedTopic, ClassProtocolViolation},
		{fmt.Errorf("%w: odd", ErrMalformedPayload), ClassProtocolViolation},
		{ErrPayloadTooLarge, ClassProtocolViolation},
		{ErrUnknownPeer, ClassLogicError},
		{ErrStaleSlot, ClassLogicError},
		{ErrScanNotIdle, ClassLogicError},
		{ErrLinkClosed, ClassTransportFailure},
		{errors.New("hci: command disallowed"), ClassTransportFailure},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestErrorClass_String(t *testing.T) {
	if ClassResourceExhausted.String() != "resource_exhausted" {
		t.Errorf("String() = %q", ClassResourceExhausted.String())
	}
	if ErrorClass(99).String() != "unknown" {
		t.Errorf("String() = %q", ErrorClass(99).String())
	}
}
