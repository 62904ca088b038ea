package domain

import "fmt"

// Status is the lifecycle state of a credential.
type Status int

const (
	StatusActive Status = iota
	StatusLimited
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusLimited:
		return "Limited"
	case StatusRevoked:
		return "Revoked"
	default:
		return "Unknown"
	}
}

// ParseStatus is the inverse of String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "Active":
		return StatusActive, nil
	case "Limited":
		return StatusLimited, nil
	case "Revoked":
		return StatusRevoked, nil
	default:
		return StatusActive, fmt.Errorf("unknown status %q", s)
	}
}

// Transition returns the state reached by moving from s to next.
// Revoked is terminal: the only move out of it is to itself.
func (s Status) Transition(next Status) (Status, error) {
	if next < StatusActive || next > StatusRevoked {
		return s, ErrIllegalTransition
	}
	if s == StatusRevoked && next != StatusRevoked {
		return s, ErrIllegalTransition
	}
	return next, nil
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
