package remotelink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/remotelink/crypto"
	"github.com/opd-ai/remotelink/interfaces"
	"github.com/opd-ai/remotelink/transport"
	"github.com/sirupsen/logrus"
)

// Message type codes used by this package and the CLI. The transport itself
// does not interpret type codes.
const (
	MessageTypeScreenFrame uint32 = 1
	MessageTypeText        uint32 = 2
)

var (
	// ErrSessionClosed indicates the session was closed with Close
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionBusy indicates the session already has a live channel
	ErrSessionBusy = errors.New("session already has an active channel")
)

// Session owns one identity and at most one live Channel at a time. It is
// the context object front ends receive instead of shared global state.
// When a channel closes, a new Serve or Connect may replace it.
type Session struct {
	opts *Options
	keys *crypto.KeyPair
	nat  *transport.NATTraversal

	mu      sync.Mutex
	channel *transport.Channel
	closed  bool

	handlerMu sync.RWMutex
	handler   transport.MessageHandler
}

var _ interfaces.MessageSender = (*Session)(nil)

// New creates a Session. A nil options uses NewOptions.
func New(options *Options) (*Session, error) {
	if options == nil {
		options = NewOptions()
	}

	keys := options.KeyPair
	if keys == nil {
		var err error
		keys, err = crypto.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate session key pair: %w", err)
		}
	}

	s := &Session{
		opts: options,
		keys: keys,
		nat:  options.natTraversal(),
	}

	fp, err := s.Fingerprint()
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"fingerprint": fp,
	}).Info("Session created")
	return s, nil
}

// Fingerprint returns the session's public key fingerprint for out-of-band
// verification or pinning by the peer.
func (s *Session) Fingerprint() (string, error) {
	return crypto.Fingerprint(s.keys.Public)
}

// OnReceive registers the handler for every channel this session owns.
func (s *Session) OnReceive(h transport.MessageHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handler = h
}

func (s *Session) dispatch(msgType uint32, payload []byte) {
	s.handlerMu.RLock()
	h := s.handler
	s.handlerMu.RUnlock()
	if h != nil {
		h(msgType, payload)
	}
}

// newChannel builds a channel on the session identity with the session
// handler already installed, so no early message is missed.
func (s *Session) newChannel() (*transport.Channel, error) {
	ch := transport.NewChannelWithKeyPair(s.keys, s.opts.channelConfig())
	ch.OnReceive(s.dispatch)
	return ch, nil
}

// reserve checks that a new channel may be installed.
func (s *Session) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.channel != nil && s.channel.State() != transport.StateClosed {
		return ErrSessionBusy
	}
	return nil
}

// install makes ch the active channel unless the session was closed or
// another call won meanwhile, in which case ch is closed.
func (s *Session) install(ch *transport.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		ch.Close()
		return ErrSessionClosed
	}
	if s.channel != nil && s.channel.State() != transport.StateClosed {
		ch.Close()
		return ErrSessionBusy
	}
	s.channel = ch
	return nil
}

// Serve listens on Options.Host:Options.Port. It returns once listening;
// use WaitConnected to block for the peer.
func (s *Session) Serve() error {
	if err := s.reserve(); err != nil {
		return err
	}
	ch, err := s.newChannel()
	if err != nil {
		return err
	}
	if err := ch.StartServer(s.opts.Host, s.opts.Port); err != nil {
		return err
	}
	return s.install(ch)
}

// Connect dials host:port. With Options.Retry.Attempts > 1 failed attempts
// are retried with exponential backoff.
func (s *Session) Connect(ctx context.Context, host string, port int) error {
	if err := s.reserve(); err != nil {
		return err
	}

	var ch *transport.Channel
	var err error
	if s.opts.Retry.Attempts > 1 {
		ch, err = s.opts.backoff().Connect(ctx, s.newChannel, host, port)
	} else {
		ch, err = s.newChannel()
		if err == nil {
			err = ch.Connect(ctx, host, port)
		}
	}
	if err != nil {
		return err
	}
	return s.install(ch)
}

// DiscoverNAT classifies the local NAT from localPort.
func (s *Session) DiscoverNAT(ctx context.Context, localPort int) (*transport.NATInfo, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	return s.nat.Discover(ctx, localPort)
}

// ConnectP2P opens a direct connection to a NATed peer's public endpoint
// from localPort and runs the client handshake over it.
func (s *Session) ConnectP2P(ctx context.Context, peerIP string, peerPort, localPort int) error {
	if err := s.reserve(); err != nil {
		return err
	}

	conn, err := s.nat.AttemptConnect(ctx, peerIP, peerPort, localPort)
	if err != nil {
		return err
	}

	ch, err := s.newChannel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := ch.Attach(ctx, conn); err != nil {
		return err
	}
	return s.install(ch)
}

// Channel returns the current channel, or nil before Serve or Connect.
func (s *Session) Channel() *transport.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// WaitConnected blocks until the current channel has an authenticated peer.
func (s *Session) WaitConnected(ctx context.Context) error {
	ch := s.Channel()
	if ch == nil {
		return transport.ErrNotConnected
	}
	return ch.WaitConnected(ctx)
}

// Send sends one message on the current channel.
func (s *Session) Send(msgType uint32, payload []byte) error {
	s.mu.Lock()
	ch, closed := s.channel, s.closed
	s.mu.Unlock()

	if closed {
		return ErrSessionClosed
	}
	if ch == nil {
		return fmt.Errorf("session send: %w", transport.ErrNotConnected)
	}
	return ch.Send(msgType, payload)
}

// SendFrame sends one encoded screen image.
func (s *Session) SendFrame(frame []byte) error {
	return s.Send(MessageTypeScreenFrame, frame)
}

// Close closes the current channel. Later calls on the session fail with
// ErrSessionClosed. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ch := s.channel
	s.mu.Unlock()

	if ch != nil {
		return ch.Close()
	}
	return nil
}
