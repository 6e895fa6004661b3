// Package domain defines the core data structures of the settlement engine.
package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// Side represents the direction of a leveraged position.
type Side int

const (
	// SideLong profits when the mark price rises.
	SideLong Side = iota
	// SideShort profits when the mark price falls.
	SideShort
)

const (
	sideStringLong  = "LONG"
	sideStringShort = "SHORT"
)

// ParseSide normalizes a wire-level side string. BUY is an alias for LONG,
// SELL for SHORT.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case sideStringLong, "BUY":
		return SideLong, nil
	case sideStringShort, "SELL":
		return SideShort, nil
	default:
		return 0, errors.Errorf("unknown side %q", s)
	}
}

// String returns the canonical representation of the side.
func (s Side) String() string {
	if s == SideShort {
		return sideStringShort
	}
	return sideStringLong
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(text []byte) error {
	side, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = side
	return nil
}
