package status

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrFetch means the status source could not be reached or answered badly.
	ErrFetch = errors.New("status: fetch failed")
	// ErrParse means the source answered but no status could be extracted.
	ErrParse = errors.New("status: parse failed")
)

// Code is the categorical status of the external source.
type Code int

const (
	Unknown Code = iota
	Online
	Offline
	Unstable
)

func (c Code) String() string {
	switch c {
	case Online:
		return "Online"
	case Offline:
		return "Offline"
	case Unstable:
		return "Unstable"
	default:
		return "Unknown"
	}
}

// MarshalText renders the code by name in JSON snapshots.
func (c Code) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// ParseCode is the inverse of String, case-insensitive.
func ParseCode(s string) (Code, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online":
		return Online, true
	case "offline":
		return Offline, true
	case "unstable":
		return Unstable, true
	case "unknown":
		return Unknown, true
	default:
		return Unknown, false
	}
}

// Observation is one immutable reading of the status source.
type Observation struct {
	Code      Code      `json:"code"`
	Text      string    `json:"text"`
	CheckedAt time.Time `json:"checked_at"`
}

type Provider interface {
	Check(ctx context.Context) (Observation, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Observation, error)

func (f ProviderFunc) Check(ctx context.Context) (Observation, error) { return f(ctx) }

// Static returns a provider that always reports the same observation.
func Static(code Code, text string) Provider {
	return ProviderFunc(func(ctx context.Context) (Observation, error) {
		return Observation{Code: code, Text: text, CheckedAt: time.Now()}, nil
	})
}
