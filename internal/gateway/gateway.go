// Package gateway defines the host Bluetooth stack collaborator: powering on
// the adapter, scanning, and per-device advertisement-change notifications.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is one advertisement-change notification for a watched device.
type Event struct {
	Address          string // canonical colon-separated uppercase MAC
	ManufacturerData []byte // raw manufacturer data block, company ID included
}

// WatchHandler consumes events for one watched device. Returning true keeps
// the watch alive; returning false deregisters it.
type WatchHandler func(Event) bool

// BluetoothGateway is the host Bluetooth stack boundary. Implementations own
// the adapter; callers must not issue concurrent calls on one gateway.
type BluetoothGateway interface {
	// PowerOn powers the adapter and begins scanning for advertisements.
	PowerOn(ctx context.Context) error

	// Watch registers a per-device notification subscription. The handler
	// runs on the goroutine calling Process.
	Watch(address string, h WatchHandler) error

	// Process services pending advertisement events, blocking at most
	// timeout while waiting for the first one.
	Process(timeout time.Duration) error

	// Close stops scanning and releases all watches.
	Close() error
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotPowered       ConnectionState = "not_powered"
	ConnectionFailed ConnectionState = "connection_failed"
	ConnectionLost   ConnectionState = "connection_lost"
)

// ConnectionError represents any gateway connection problem. These are not
// recoverable at the subscription layer; they surface to the caller.
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotPowered       = &ConnectionError{State: NotPowered}
	ErrConnectionFailed = &ConnectionError{State: ConnectionFailed}
	ErrConnectionLost   = &ConnectionError{State: ConnectionLost}
)

// ErrWatchExists reports a duplicate Watch registration for an address.
var ErrWatchExists = errors.New("watch already registered")

// NormalizeError maps known go-ble error strings to structured
// ConnectionError types so callers get consistent handling even if the
// upstream library changes messages slightly. Wraps to preserve context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "can't init"),
		containsIgnoreCase(msg, "can't new device"),
		containsIgnoreCase(msg, "no device"):
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	case containsIgnoreCase(msg, "powered off"),
		containsIgnoreCase(msg, "not powered"):
		return fmt.Errorf("%w: %v", ErrNotPowered, err)
	case containsIgnoreCase(msg, "closed"),
		containsIgnoreCase(msg, "input channel closed"):
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// NormalizeAddress canonicalizes a device MAC into colon-separated uppercase
// hex form so addresses from flags, config files, and the Bluetooth stack
// compare equal.
func NormalizeAddress(addr string) string {
	addr = strings.ReplaceAll(addr, "-", ":")
	addr = strings.ReplaceAll(addr, "_", ":")
	return strings.ToUpper(strings.TrimSpace(addr))
}

// ValidAddress reports whether addr is a six-octet colon-separated MAC.
func ValidAddress(addr string) bool {
	parts := strings.Split(NormalizeAddress(addr), ":")
	if len(parts) != 6 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 {
			return false
		}
		for _, c := range p {
			if !isHexDigit(c) {
				return false
			}
		}
	}
	return true
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}
