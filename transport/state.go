package transport

import "fmt"

// ConnectionState is the lifecycle position of a Channel.
type ConnectionState uint8

const (
	// StateIdle is a new channel that has neither listened nor dialed.
	StateIdle ConnectionState = iota
	// StateListening means the server socket is accepting.
	StateListening
	// StateConnecting means an outbound dial is in progress.
	StateConnecting
	// StateAuthenticating means a handshake is in progress.
	StateAuthenticating
	// StateConnected means a peer is authenticated and the receive loop runs.
	StateConnected
	// StateClosed is terminal.
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateListening:
		return "Listening"
	case StateConnecting:
		return "Connecting"
	case StateAuthenticating:
		return "Authenticating"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", uint8(s))
	}
}
