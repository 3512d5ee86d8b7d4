package remotelink

import (
	"time"

	"github.com/opd-ai/remotelink/crypto"
	"github.com/opd-ai/remotelink/transport"
)

// Options contains configuration options for creating a Session.
type Options struct {
	// Host and Port are the listen address used by Serve.
	Host string
	Port int

	HandshakeTimeout time.Duration
	DialTimeout      time.Duration
	WriteTimeout     time.Duration
	FreshnessWindow  time.Duration
	MaxFrameSize     uint32

	// AuthToken overrides the handshake proof token. Both ends must agree.
	AuthToken string
	// PeerFingerprint pins the peer key (OpenSSH SHA256 form).
	PeerFingerprint string
	// DispatchQueue > 0 moves handler calls off the receive goroutine.
	DispatchQueue int

	Retry RetryOptions
	NAT   NATOptions

	// KeyPair is the session identity. Nil generates one in New.
	KeyPair *crypto.KeyPair
}

// RetryOptions controls Connect. Attempts <= 1 disables retrying.
type RetryOptions struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// NATOptions controls STUN discovery and direct connects.
type NATOptions struct {
	STUNServer     string
	Timeout        time.Duration
	Retries        int
	ConnectTimeout time.Duration
	LocalPort      int
	CacheTTL       time.Duration
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	b := transport.DefaultBackoff()
	return &Options{
		Host:             "0.0.0.0",
		Port:             9999,
		HandshakeTimeout: transport.DefaultHandshakeTimeout,
		DialTimeout:      transport.DefaultDialTimeout,
		WriteTimeout:     transport.DefaultWriteTimeout,
		Retry: RetryOptions{
			Attempts:   1,
			Initial:    b.Initial,
			Max:        b.Max,
			Multiplier: b.Multiplier,
		},
		NAT: NATOptions{
			STUNServer:     transport.DefaultSTUNServer,
			Timeout:        transport.DefaultSTUNTimeout,
			Retries:        transport.DefaultSTUNRetries,
			ConnectTimeout: transport.DefaultConnectTimeout,
			LocalPort:      9999,
		},
	}
}

// channelConfig maps the options onto a transport.Config.
func (o *Options) channelConfig() transport.Config {
	cfg := transport.Config{
		HandshakeTimeout: o.HandshakeTimeout,
		DialTimeout:      o.DialTimeout,
		WriteTimeout:     o.WriteTimeout,
		FreshnessWindow:  o.FreshnessWindow,
		MaxFrameSize:     o.MaxFrameSize,
		PeerFingerprint:  o.PeerFingerprint,
		DispatchQueue:    o.DispatchQueue,
	}
	if o.AuthToken != "" {
		cfg.AuthToken = []byte(o.AuthToken)
	}
	return cfg
}

func (o *Options) backoff() transport.Backoff {
	return transport.Backoff{
		Attempts:   o.Retry.Attempts,
		Initial:    o.Retry.Initial,
		Max:        o.Retry.Max,
		Multiplier: o.Retry.Multiplier,
	}
}

func (o *Options) natTraversal() *transport.NATTraversal {
	nt := transport.NewNATTraversal(o.NAT.STUNServer)
	nt.SetTimeout(o.NAT.Timeout)
	nt.SetRetries(o.NAT.Retries)
	nt.SetConnectTimeout(o.NAT.ConnectTimeout)
	nt.SetCacheTTL(o.NAT.CacheTTL)
	return nt
}
