package transport

import (
	"time"

	"github.com/opd-ai/remotelink/envelope"
	"github.com/opd-ai/remotelink/limits"
)

// DefaultAuthToken is the 16-byte ASCII proof each side encrypts under the
// other's public key. It is fixed and public, so it proves possession of the
// private key but offers no forward secrecy and no protection against a
// recorded handshake being replayed.
const DefaultAuthToken = "PyRemote_Auth_OK"

const (
	// DefaultHandshakeTimeout bounds the whole four-step handshake.
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultDialTimeout bounds the outbound TCP connect.
	DefaultDialTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds one frame write.
	DefaultWriteTimeout = 5 * time.Second
)

// Config tunes a Channel. The zero value is usable; unset fields take the
// defaults below.
type Config struct {
	HandshakeTimeout time.Duration
	DialTimeout      time.Duration
	WriteTimeout     time.Duration

	// FreshnessWindow is the envelope timestamp tolerance (default 30s).
	FreshnessWindow time.Duration

	// MaxFrameSize caps one encrypted data frame (default limits.MaxFrameSize).
	MaxFrameSize uint32

	// AuthToken overrides DefaultAuthToken. Both ends must agree.
	AuthToken []byte

	// PeerFingerprint, if set, pins the peer key to an OpenSSH SHA256
	// fingerprint. Any other key fails authentication.
	PeerFingerprint string

	// DispatchQueue > 0 moves handler calls onto a worker goroutine behind a
	// bounded queue of that size. Zero dispatches on the receive goroutine.
	DispatchQueue int

	// TimeProvider drives envelope timestamps; nil uses the system clock.
	TimeProvider envelope.TimeProvider
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = envelope.DefaultWindow
	}
	c.MaxFrameSize = limits.ClampFrameSize(c.MaxFrameSize)
	if len(c.AuthToken) == 0 {
		c.AuthToken = []byte(DefaultAuthToken)
	}
	if c.DispatchQueue < 0 {
		c.DispatchQueue = 0
	}
	return c
}
