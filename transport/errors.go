package transport

import (
	"errors"
	"fmt"

	"github.com/opd-ai/remotelink/envelope"
)

// Error kinds. Every error returned by a Channel matches exactly one of these
// with errors.Is.
var (
	// ErrConnection indicates a socket I/O failure; the channel closes.
	ErrConnection = errors.New("connection error")

	// ErrAuthentication indicates the peer failed the handshake proof.
	ErrAuthentication = errors.New("authentication failed")

	// ErrProtocol indicates a malformed frame length or chunk layout.
	ErrProtocol = errors.New("protocol error")

	// ErrIntegrity indicates an envelope checksum mismatch.
	ErrIntegrity = envelope.ErrIntegrity

	// ErrReplay indicates an envelope timestamp outside the window.
	ErrReplay = envelope.ErrReplay
)

// Lifecycle errors.
var (
	// ErrChannelClosed indicates the channel reached its terminal state
	ErrChannelClosed = errors.New("channel closed")

	// ErrNotConnected indicates Send was called before the handshake finished
	ErrNotConnected = errors.New("channel not connected")

	// ErrInvalidState indicates an operation not allowed from the current state
	ErrInvalidState = errors.New("invalid channel state")
)

// ChannelError adds operation context to one of the error kinds.
type ChannelError struct {
	Op   string // operation that failed, e.g. "handshake", "send", "read"
	Addr string // remote address if known
	Kind error  // one of the ErrConnection/ErrAuthentication/... kinds
	Err  error  // underlying cause, may be nil
}

func (e *ChannelError) Error() string {
	msg := e.Kind.Error()
	if e.Err != nil {
		msg = fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	if e.Addr != "" {
		return fmt.Sprintf("channel %s %s: %s", e.Op, e.Addr, msg)
	}
	return fmt.Sprintf("channel %s: %s", e.Op, msg)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *ChannelError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newChannelError(op, addr string, kind, err error) *ChannelError {
	return &ChannelError{Op: op, Addr: addr, Kind: kind, Err: err}
}

// NAT error kinds, matched with errors.Is against a *NATError.
var (
	// ErrNATUnsupported indicates a NAT type that cannot be traversed directly
	ErrNATUnsupported = errors.New("NAT type not traversable")

	// ErrNATTimeout indicates the direct connect did not complete in time
	ErrNATTimeout = errors.New("NAT traversal timed out")

	// ErrNATConnectFailed indicates the direct connect failed for another reason
	ErrNATConnectFailed = errors.New("NAT traversal connect failed")

	// ErrNATDiscoveryFailed indicates the local UDP socket could not be used
	ErrNATDiscoveryFailed = errors.New("NAT discovery failed")
)

// NATError is returned by Discover and AttemptConnect. Nothing retries it
// internally.
type NATError struct {
	Kind error
	Type NATType // classification, when one was reached
	Err  error
}

func (e *NATError) Error() string {
	msg := e.Kind.Error()
	if e.Type != NATTypeUnknown {
		msg = fmt.Sprintf("%s (%s)", msg, e.Type)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *NATError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
