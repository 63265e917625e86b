package ble

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a Bluetooth device address in transmission order as displayed:
// Address{0xAA, 0xBB, ...} prints as "AA:BB:...".
type Address [6]byte

// Address format constants.
const (
	// addressLen is the number of octets in a device address.
	addressLen = 6

	// colonFormLen is the length of "AA:BB:CC:DD:EE:FF".
	colonFormLen = 17

	// compactFormLen is the length of "AABBCCDDEEFF".
	compactFormLen = 12
)

// ParseAddress parses a device address.
//
// Accepts formats (case-insensitive):
//   - "AA:BB:CC:DD:EE:FF" (colon form, as used in topics and by BlueZ)
//   - "AA-BB-CC-DD-EE-FF" (dash form)
//   - "AABBCCDDEEFF"      (compact form)
//
// Returns:
//   - Address: Parsed address
//   - error: ErrInvalidAddress if parsing fails
func ParseAddress(s string) (Address, error) {
	var compact string
	switch len(s) {
	case colonFormLen:
		sep := s[2]
		if sep != ':' && sep != '-' {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		parts := strings.Split(s, string(sep))
		if len(parts) != addressLen {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		for _, p := range parts {
			if len(p) != 2 {
				return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
			}
		}
		compact = strings.Join(parts, "")
	case compactFormLen:
		compact = s
	default:
		return Address{}, fmt.Errorf("%w: %q has length %d", ErrInvalidAddress, s, len(s))
	}

	raw, err := hex.DecodeString(compact)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: not hexadecimal", ErrInvalidAddress, s)
	}

	var a Address
	copy(a[:], raw)
	return a, nil
}

// MustParseAddress is like ParseAddress but panics on error.
// Intended for tests and compile-time constants.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the canonical upper-case colon form.
func (a Address) String() string {
	const digits = "0123456789ABCDEF"
	buf := make([]byte, 0, colonFormLen)
	for i, b := range a {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, digits[b>>4], digits[b&0x0F])
	}
	return string(buf)
}

// IsZero reports whether the address is all zeroes.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
