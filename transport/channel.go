package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/remotelink/crypto"
	"github.com/opd-ai/remotelink/envelope"
	"github.com/opd-ai/remotelink/limits"
	"github.com/sirupsen/logrus"
)

// MessageHandler receives every valid message in arrival order.
type MessageHandler func(msgType uint32, payload []byte)

// Stats is a snapshot of a channel's traffic counters.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	MessagesDropped  uint64
	BytesSent        uint64
	BytesReceived    uint64
}

type counters struct {
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	messagesDropped  atomic.Uint64
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
}

// Channel is an authenticated, encrypted, single-peer message channel.
//
// A Channel has capacity one: a server accepts sockets until the first
// handshake succeeds, then closes its listener and rejects anything still in
// flight. Closed is terminal; reconnecting means creating a new Channel.
type Channel struct {
	cfg       Config
	keys      *crypto.KeyPair
	validator *envelope.Validator

	mu       sync.Mutex
	state    ConnectionState
	listener net.Listener
	conn     net.Conn
	cipher   *crypto.Cipher
	peerFP   string
	pending  map[net.Conn]struct{} // sockets mid-handshake
	err      error

	handlerMu sync.RWMutex
	handler   MessageHandler

	writeMu sync.Mutex

	connected chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	queue chan message
	stats counters
}

type message struct {
	msgType uint32
	payload []byte
}

// NewChannel creates an idle channel with a freshly generated key pair.
func NewChannel(cfg Config) (*Channel, error) {
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return NewChannelWithKeyPair(keys, cfg), nil
}

// NewChannelWithKeyPair creates an idle channel around an existing key pair.
func NewChannelWithKeyPair(keys *crypto.KeyPair, cfg Config) *Channel {
	cfg = cfg.withDefaults()
	c := &Channel{
		cfg:       cfg,
		keys:      keys,
		validator: envelope.NewValidatorWithWindow(cfg.FreshnessWindow, cfg.TimeProvider),
		pending:   make(map[net.Conn]struct{}),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
	if cfg.DispatchQueue > 0 {
		c.queue = make(chan message, cfg.DispatchQueue)
	}
	return c
}

// OnReceive registers the message handler. A later call replaces it.
func (c *Channel) OnReceive(h MessageHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler = h
}

// StartServer binds host:port and accepts peers until one authenticates.
func (c *Channel) StartServer(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return newChannelError("listen", addr, ErrInvalidState, fmt.Errorf("channel is %s", state))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		c.mu.Unlock()
		cerr := newChannelError("listen", addr, ErrConnection, err)
		c.shutdown(cerr)
		return cerr
	}
	c.listener = ln
	c.state = StateListening
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "StartServer",
		"address":  ln.Addr().String(),
	}).Info("Channel listening")

	go c.acceptLoop(ln)
	return nil
}

// acceptLoop hands each inbound socket to its own handshake goroutine.
func (c *Channel) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || c.isTerminalOrConnected() {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "acceptLoop",
				"error":    err.Error(),
			}).Warn("Accept failed")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if !c.beginAttempt(conn) {
			logrus.WithFields(logrus.Fields{
				"function": "acceptLoop",
				"remote":   conn.RemoteAddr().String(),
			}).Warn("Rejecting connection: channel already has a peer")
			conn.Close()
			continue
		}

		go c.serverAttempt(conn)
	}
}

// beginAttempt registers conn as mid-handshake, unless a peer already won.
func (c *Channel) beginAttempt(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateListening && c.state != StateAuthenticating {
		return false
	}
	c.pending[conn] = struct{}{}
	c.state = StateAuthenticating
	return true
}

// serverAttempt authenticates one inbound socket. Failure closes only that
// socket; the channel keeps listening.
func (c *Channel) serverAttempt(conn net.Conn) {
	attemptID := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	defer cancel()

	result, err := runHandshake(ctx, conn, c.keys, c.cfg, attemptID)

	c.mu.Lock()
	delete(c.pending, conn)

	if err != nil {
		if c.state == StateAuthenticating && len(c.pending) == 0 {
			c.state = StateListening
		}
		c.mu.Unlock()
		conn.Close()
		logrus.WithFields(logrus.Fields{
			"function":   "serverAttempt",
			"attempt_id": attemptID,
			"remote":     conn.RemoteAddr().String(),
			"error":      err.Error(),
		}).Warn("Inbound handshake failed")
		return
	}

	if c.state != StateAuthenticating {
		// Another attempt won or the channel was closed.
		c.mu.Unlock()
		conn.Close()
		return
	}

	c.installLocked(conn, result)
	ln := c.listener
	c.listener = nil
	losers := c.pending
	c.pending = make(map[net.Conn]struct{})
	c.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for other := range losers {
		other.Close()
	}

	c.startReceiving(conn, result.cipher)
}

// Connect dials host:port and authenticates as the client.
func (c *Channel) Connect(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	if err := c.transition(StateIdle, StateConnecting, "connect", addr); err != nil {
		return err
	}

	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		cerr := newChannelError("connect", addr, ErrConnection, err)
		c.shutdown(cerr)
		return cerr
	}

	return c.authenticate(ctx, conn)
}

// Attach authenticates over an already-open socket, such as one produced by
// NAT traversal. The channel takes ownership of conn.
func (c *Channel) Attach(ctx context.Context, conn net.Conn) error {
	if err := c.transition(StateIdle, StateConnecting, "attach", conn.RemoteAddr().String()); err != nil {
		conn.Close()
		return err
	}
	return c.authenticate(ctx, conn)
}

func (c *Channel) transition(from, to ConnectionState, op, addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return newChannelError(op, addr, ErrInvalidState, fmt.Errorf("channel is %s", c.state))
	}
	c.state = to
	return nil
}

// authenticate runs the client side of the handshake. Failure is terminal.
func (c *Channel) authenticate(ctx context.Context, conn net.Conn) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		conn.Close()
		return newChannelError("handshake", conn.RemoteAddr().String(), ErrChannelClosed, nil)
	}
	c.state = StateAuthenticating
	c.pending[conn] = struct{}{}
	c.mu.Unlock()

	result, err := runHandshake(ctx, conn, c.keys, c.cfg, uuid.NewString())

	c.mu.Lock()
	delete(c.pending, conn)
	if err == nil && c.state == StateClosed {
		err = newChannelError("handshake", conn.RemoteAddr().String(), ErrChannelClosed, nil)
	}
	if err != nil {
		c.mu.Unlock()
		conn.Close()
		c.shutdown(err)
		return err
	}
	c.installLocked(conn, result)
	c.mu.Unlock()

	c.startReceiving(conn, result.cipher)
	return nil
}

// installLocked makes conn the active peer. c.mu must be held.
func (c *Channel) installLocked(conn net.Conn, result *handshakeResult) {
	c.conn = conn
	c.cipher = result.cipher
	c.peerFP = result.fingerprint
	c.state = StateConnected
	close(c.connected)
}

func (c *Channel) startReceiving(conn net.Conn, cipher *crypto.Cipher) {
	if c.queue != nil {
		go c.dispatchLoop()
	}
	go c.receiveLoop(conn, cipher)
}

// Send packs, encrypts and writes one message. Concurrent callers are
// serialized by a per-channel write lock. An I/O error closes the channel.
func (c *Channel) Send(msgType uint32, payload []byte) error {
	c.mu.Lock()
	state, conn, cipher := c.state, c.conn, c.cipher
	c.mu.Unlock()

	switch state {
	case StateConnected:
	case StateClosed:
		return newChannelError("send", "", ErrChannelClosed, nil)
	default:
		return newChannelError("send", "", ErrNotConnected, fmt.Errorf("channel is %s", state))
	}

	addr := conn.RemoteAddr().String()
	ciphertext, err := cipher.Encrypt(c.validator.Pack(msgType, payload))
	if err != nil {
		return newChannelError("send", addr, ErrProtocol, err)
	}
	if err := limits.ValidateMessageSize(ciphertext, int(c.cfg.MaxFrameSize)); err != nil {
		return newChannelError("send", addr, ErrProtocol, err)
	}

	c.writeMu.Lock()
	err = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err == nil {
		err = writeFrame(conn, ciphertext)
	}
	c.writeMu.Unlock()

	if err != nil {
		cerr := newChannelError("send", addr, ErrConnection, err)
		c.shutdown(cerr)
		return cerr
	}

	c.stats.messagesSent.Add(1)
	c.stats.bytesSent.Add(uint64(limits.LengthPrefixSize + len(ciphertext)))
	return nil
}

// receiveLoop reads frames until the socket fails or the channel closes.
func (c *Channel) receiveLoop(conn net.Conn, cipher *crypto.Cipher) {
	addr := conn.RemoteAddr().String()
	header := make([]byte, limits.LengthPrefixSize)

	for {
		length, err := readFrameLength(conn, header, c.cfg.MaxFrameSize)
		if err != nil {
			c.readFailed(addr, err)
			return
		}
		frame, err := readFrameData(conn, length)
		if err != nil {
			c.readFailed(addr, err)
			return
		}
		c.stats.bytesReceived.Add(uint64(limits.LengthPrefixSize) + uint64(length))

		c.handleFrame(addr, cipher, frame)
	}
}

func (c *Channel) readFailed(addr string, err error) {
	select {
	case <-c.done:
		return
	default:
	}
	if errors.Is(err, net.ErrClosed) {
		c.shutdown(nil)
		return
	}
	cerr := classifyIOError("read", addr, err)
	logrus.WithFields(logrus.Fields{
		"function": "receiveLoop",
		"remote":   addr,
		"error":    cerr.Error(),
	}).Warn("Receive loop terminated")
	c.shutdown(cerr)
}

// handleFrame decrypts and validates one frame. Bad frames are dropped
// without tearing down the connection.
func (c *Channel) handleFrame(addr string, cipher *crypto.Cipher, frame []byte) {
	plaintext, err := cipher.Decrypt(frame)
	if err != nil {
		c.drop(addr, "decrypt", newChannelError("read", addr, ErrProtocol, err))
		return
	}

	env, result := c.validator.Open(plaintext)
	if result != envelope.Valid {
		c.drop(addr, result.String(), newChannelError("read", addr, result.Err(), nil))
		return
	}

	c.stats.messagesReceived.Add(1)
	c.deliver(message{msgType: env.Type, payload: env.Payload})
}

func (c *Channel) drop(addr, reason string, err error) {
	c.stats.messagesDropped.Add(1)
	logrus.WithFields(logrus.Fields{
		"function": "handleFrame",
		"remote":   addr,
		"reason":   reason,
		"error":    err.Error(),
	}).Warn("Dropping message")
}

func (c *Channel) deliver(m message) {
	if c.queue == nil {
		c.invoke(m)
		return
	}
	select {
	case c.queue <- m:
	case <-c.done:
	}
}

func (c *Channel) dispatchLoop() {
	for {
		select {
		case m := <-c.queue:
			c.invoke(m)
		case <-c.done:
			return
		}
	}
}

func (c *Channel) invoke(m message) {
	c.handlerMu.RLock()
	h := c.handler
	c.handlerMu.RUnlock()
	if h != nil {
		h(m.msgType, m.payload)
	}
}

// Close releases the listener and socket. It is safe to call repeatedly and
// from inside a MessageHandler.
func (c *Channel) Close() error {
	c.shutdown(nil)
	return nil
}

// shutdown moves the channel to Closed. The first cause is kept for Err.
func (c *Channel) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.err = cause
		ln, conn := c.listener, c.conn
		pending := c.pending
		c.listener = nil
		c.pending = make(map[net.Conn]struct{})
		c.mu.Unlock()

		// done closes first so goroutines woken by the socket close below see
		// a local shutdown rather than a read failure.
		close(c.done)
		if ln != nil {
			ln.Close()
		}
		if conn != nil {
			conn.Close()
		}
		for p := range pending {
			p.Close()
		}

		entry := logrus.WithFields(logrus.Fields{"function": "Close"})
		if cause != nil {
			entry.WithField("error", cause.Error()).Warn("Channel closed on error")
		} else {
			entry.Debug("Channel closed")
		}
	})
}

func (c *Channel) isTerminalOrConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateClosed || c.state == StateConnected
}

// State returns the current lifecycle state.
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Addr returns the listening address, or nil when not listening.
func (c *Channel) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// RemoteAddr returns the connected peer's address, or nil.
func (c *Channel) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

// PeerFingerprint returns the authenticated peer key fingerprint.
func (c *Channel) PeerFingerprint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerFP
}

// Fingerprint returns the local public key fingerprint.
func (c *Channel) Fingerprint() (string, error) {
	return crypto.Fingerprint(c.keys.Public)
}

// Done is closed when the channel reaches Closed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that closed the channel, or nil after a clean Close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// WaitConnected blocks until a peer authenticates, the channel closes, or ctx ends.
func (c *Channel) WaitConnected(ctx context.Context) error {
	select {
	case <-c.connected:
		return nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return newChannelError("wait", "", ErrChannelClosed, nil)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the traffic counters.
func (c *Channel) Stats() Stats {
	return Stats{
		MessagesSent:     c.stats.messagesSent.Load(),
		MessagesReceived: c.stats.messagesReceived.Load(),
		MessagesDropped:  c.stats.messagesDropped.Load(),
		BytesSent:        c.stats.bytesSent.Load(),
		BytesReceived:    c.stats.bytesReceived.Load(),
	}
}
