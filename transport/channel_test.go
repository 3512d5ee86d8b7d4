package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/remotelink/crypto"
	"github.com/opd-ai/remotelink/envelope"
	"github.com/opd-ai/remotelink/limits"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelEndToEnd(t *testing.T) {
	serverKeys, clientKeys, _ := testKeyPairs(t)

	server := NewChannelWithKeyPair(serverKeys, Config{})
	msgs := collect(server)
	require.NoError(t, server.StartServer("127.0.0.1", 19001))
	defer server.Close()

	client := NewChannelWithKeyPair(clientKeys, Config{})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx, "127.0.0.1", 19001))
	assert.Equal(t, StateConnected, client.State())

	require.NoError(t, client.Send(1, []byte("hello")))

	got := expectMessage(t, msgs, time.Second)
	assert.Equal(t, uint32(1), got.msgType)
	assert.Equal(t, []byte("hello"), got.payload)
	assert.Equal(t, StateConnected, server.State())
}

func TestChannelBidirectional(t *testing.T) {
	server, client := connectedPair(t, Config{}, Config{})

	first := collect(client)
	replaced := collect(client) // replaces the first handler
	serverMsgs := collect(server)

	cases := []struct {
		msgType uint32
		payload []byte
	}{
		{0, nil},
		{1, []byte("frame")},
		{math.MaxUint32, bytes.Repeat([]byte{0x42}, 5000)},
	}
	for _, tc := range cases {
		require.NoError(t, server.Send(tc.msgType, tc.payload))
		got := expectMessage(t, replaced, 2*time.Second)
		assert.Equal(t, tc.msgType, got.msgType)
		if len(tc.payload) == 0 {
			assert.Empty(t, got.payload)
		} else {
			assert.Equal(t, tc.payload, got.payload)
		}
	}
	expectNoMessage(t, first, 50*time.Millisecond)

	require.NoError(t, client.Send(2, []byte("reply")))
	got := expectMessage(t, serverMsgs, 2*time.Second)
	assert.Equal(t, []byte("reply"), got.payload)

	assert.Equal(t, uint64(3), server.Stats().MessagesSent)
	assert.Equal(t, uint64(3), client.Stats().MessagesReceived)
	assert.NotZero(t, client.Stats().BytesReceived)
}

func TestChannelDropsBadMessages(t *testing.T) {
	serverKeys, clientKeys, _ := testKeyPairs(t)
	server := NewChannelWithKeyPair(serverKeys, Config{})
	msgs := collect(server)
	port := startTestServer(t, server)

	conn, cipher := rawPeer(t, port, clientKeys)
	send := func(plaintext []byte) {
		t.Helper()
		ct, err := cipher.Encrypt(plaintext)
		require.NoError(t, err)
		require.NoError(t, writeFrame(conn, ct))
	}

	// Ciphertext corrupted in transit.
	ct, err := cipher.Encrypt(envelope.Pack(1, []byte("flipped ciphertext")))
	require.NoError(t, err)
	ct[10] ^= 0xFF
	require.NoError(t, writeFrame(conn, ct))

	// Not a whole number of RSA blocks.
	misaligned := make([]byte, 100)
	_, _ = rand.Read(misaligned)
	require.NoError(t, writeFrame(conn, misaligned))

	// Envelope checksum mismatch.
	tampered := envelope.Pack(1, []byte("tampered payload"))
	tampered[envelope.HeaderSize] ^= 0x01
	send(tampered)

	// Stale timestamp.
	send(envelope.PackAt(1, time.Now().Add(-2*time.Minute), []byte("stale")))

	// Shorter than an envelope header and checksum.
	send([]byte("short"))

	send(envelope.Pack(7, []byte("still alive")))

	got := expectMessage(t, msgs, 2*time.Second)
	assert.Equal(t, uint32(7), got.msgType)
	assert.Equal(t, []byte("still alive"), got.payload)
	expectNoMessage(t, msgs, 50*time.Millisecond)

	assert.Equal(t, StateConnected, server.State())
	stats := server.Stats()
	assert.Equal(t, uint64(5), stats.MessagesDropped)
	assert.Equal(t, uint64(1), stats.MessagesReceived)
}

func TestChannelFatalFrameLengths(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		length uint32
	}{
		{"zero length", Config{}, 0},
		{"over frame limit", Config{MaxFrameSize: 1024}, 2048},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serverKeys, clientKeys, _ := testKeyPairs(t)
			server := NewChannelWithKeyPair(serverKeys, tt.cfg)
			port := startTestServer(t, server)

			conn, _ := rawPeer(t, port, clientKeys)
			header := make([]byte, 4)
			binary.BigEndian.PutUint32(header, tt.length)
			_, err := conn.Write(header)
			require.NoError(t, err)

			select {
			case <-server.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("channel did not close on a bad frame length")
			}
			assert.Equal(t, StateClosed, server.State())
			assert.ErrorIs(t, server.Err(), ErrProtocol)

			// The socket was released.
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, err = conn.Read(make([]byte, 1))
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestChannelSendRejectsOversizedMessage(t *testing.T) {
	server, client := connectedPair(t, Config{}, Config{MaxFrameSize: 1024})
	msgs := collect(server)

	// 1000 bytes of payload encrypt to five 256-byte blocks.
	err := client.Send(1, make([]byte, 1000))
	assert.ErrorIs(t, err, ErrProtocol)
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)
	assert.Equal(t, StateConnected, client.State())

	require.NoError(t, client.Send(1, []byte("small")))
	assert.Equal(t, []byte("small"), expectMessage(t, msgs, 2*time.Second).payload)
}

func TestChannelRefusesSecondPeer(t *testing.T) {
	serverKeys, clientKeys, intruderKeys := testKeyPairs(t)
	server := NewChannelWithKeyPair(serverKeys, Config{})
	msgs := collect(server)
	port := startTestServer(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := NewChannelWithKeyPair(clientKeys, Config{})
	defer first.Close()
	require.NoError(t, first.Connect(ctx, "127.0.0.1", port))
	require.NoError(t, server.WaitConnected(ctx))
	assert.Nil(t, server.Addr(), "listener is released once a peer is connected")

	second := NewChannelWithKeyPair(intruderKeys, Config{HandshakeTimeout: time.Second})
	defer second.Close()
	err := second.Connect(ctx, "127.0.0.1", port)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, StateClosed, second.State())

	require.NoError(t, first.Send(1, []byte("first peer unaffected")))
	got := expectMessage(t, msgs, 2*time.Second)
	assert.Equal(t, []byte("first peer unaffected"), got.payload)
	assert.Equal(t, StateConnected, server.State())
}

func TestChannelFailedAttemptKeepsListening(t *testing.T) {
	serverKeys, clientKeys, intruderKeys := testKeyPairs(t)
	server := NewChannelWithKeyPair(serverKeys, Config{})
	port := startTestServer(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bad := NewChannelWithKeyPair(intruderKeys, Config{AuthToken: []byte("Wrong_Auth_Token")})
	err := bad.Connect(ctx, "127.0.0.1", port)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, StateClosed, bad.State())
	assert.Equal(t, err, bad.Err())

	assert.Eventually(t, func() bool {
		return server.State() == StateListening
	}, 2*time.Second, 10*time.Millisecond)

	good := NewChannelWithKeyPair(clientKeys, Config{})
	defer good.Close()
	require.NoError(t, good.Connect(ctx, "127.0.0.1", port))
	require.NoError(t, server.WaitConnected(ctx))

	clientFP, err := crypto.Fingerprint(clientKeys.Public)
	require.NoError(t, err)
	assert.Equal(t, clientFP, server.PeerFingerprint())
}

func TestChannelPinnedFingerprint(t *testing.T) {
	serverKeys, clientKeys, intruderKeys := testKeyPairs(t)
	server := NewChannelWithKeyPair(serverKeys, Config{})
	port := startTestServer(t, server)

	wrongFP, err := crypto.Fingerprint(intruderKeys.Public)
	require.NoError(t, err)
	rightFP, err := server.Fingerprint()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pinnedWrong := NewChannelWithKeyPair(clientKeys, Config{PeerFingerprint: wrongFP})
	err = pinnedWrong.Connect(ctx, "127.0.0.1", port)
	assert.ErrorIs(t, err, ErrAuthentication)

	pinnedRight := NewChannelWithKeyPair(clientKeys, Config{PeerFingerprint: rightFP})
	defer pinnedRight.Close()
	require.NoError(t, pinnedRight.Connect(ctx, "127.0.0.1", port))
	assert.Equal(t, rightFP, pinnedRight.PeerFingerprint())
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	server, client := connectedPair(t, Config{}, Config{})

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	select {
	case <-client.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	assert.NoError(t, client.Err())
	assert.Equal(t, StateClosed, client.State())
	assert.ErrorIs(t, client.Send(1, []byte("late")), ErrChannelClosed)

	// The peer sees the socket go away.
	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not notice the peer closing")
	}
	assert.ErrorIs(t, server.Err(), ErrConnection)
	assert.ErrorIs(t, server.Send(1, nil), ErrChannelClosed)
}

func TestChannelLocalCloseIsQuiet(t *testing.T) {
	server, client := connectedPair(t, Config{}, Config{})
	hook := logtest.NewGlobal()
	defer hook.Reset()

	remote := client.RemoteAddr().String()
	require.NoError(t, client.Close())

	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not notice the peer closing")
	}
	time.Sleep(50 * time.Millisecond)

	for _, e := range hook.AllEntries() {
		if e.Message == "Receive loop terminated" && e.Data["remote"] == remote {
			t.Fatalf("local Close logged as a read failure: %v", e.Data["error"])
		}
	}
	assert.NoError(t, client.Err())
}

func TestChannelCloseFromHandler(t *testing.T) {
	server, client := connectedPair(t, Config{}, Config{})

	handled := make(chan struct{})
	server.OnReceive(func(uint32, []byte) {
		server.Close()
		close(handled)
	})
	require.NoError(t, client.Send(1, []byte("bye")))

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}
	<-server.Done()
	assert.NoError(t, server.Err())
}

func TestChannelInvalidStates(t *testing.T) {
	serverKeys, _, _ := testKeyPairs(t)
	ch := NewChannelWithKeyPair(serverKeys, Config{})

	assert.ErrorIs(t, ch.Send(1, []byte("x")), ErrNotConnected)

	startTestServer(t, ch)
	assert.Equal(t, StateListening, ch.State())
	assert.ErrorIs(t, ch.StartServer("127.0.0.1", 0), ErrInvalidState)
	assert.ErrorIs(t, ch.Connect(context.Background(), "127.0.0.1", 1), ErrInvalidState)
	assert.ErrorIs(t, ch.Send(1, []byte("x")), ErrNotConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ch.WaitConnected(ctx), context.DeadlineExceeded)

	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Send(1, []byte("x")), ErrChannelClosed)
	assert.ErrorIs(t, ch.WaitConnected(context.Background()), ErrChannelClosed)
}

func TestChannelConnectRefused(t *testing.T) {
	_, clientKeys, _ := testKeyPairs(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ch := NewChannelWithKeyPair(clientKeys, Config{DialTimeout: time.Second})
	err = ch.Connect(context.Background(), "127.0.0.1", port)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, StateClosed, ch.State())
	assert.Equal(t, err, ch.Err())

	var ce *ChannelError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "connect", ce.Op)
	assert.Equal(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), ce.Addr)
}

func TestChannelCloseAbortsPendingHandshake(t *testing.T) {
	serverKeys, _, _ := testKeyPairs(t)
	server := NewChannelWithKeyPair(serverKeys, Config{})
	port := startTestServer(t, server)

	// A peer that connects and never speaks.
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool {
		return server.State() == StateAuthenticating
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, server.Close())

	// Drain the server's key frame, then expect the socket to be gone.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadAll(conn)
	assert.NoError(t, err, "socket left open")
}

func TestChannelAttach(t *testing.T) {
	serverKeys, clientKeys, _ := testKeyPairs(t)
	server := NewChannelWithKeyPair(serverKeys, Config{})
	msgs := collect(server)
	port := startTestServer(t, server)

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)

	client := NewChannelWithKeyPair(clientKeys, Config{})
	defer client.Close()
	require.NoError(t, client.Attach(context.Background(), conn))

	require.NoError(t, client.Send(3, []byte("attached")))
	got := expectMessage(t, msgs, 2*time.Second)
	assert.Equal(t, []byte("attached"), got.payload)

	// A second Attach is not allowed.
	other, _ := net.Pipe()
	assert.ErrorIs(t, client.Attach(context.Background(), other), ErrInvalidState)
}

func TestChannelDispatchQueuePreservesOrder(t *testing.T) {
	server, client := connectedPair(t, Config{DispatchQueue: 2}, Config{})

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	const n = 20
	server.OnReceive(func(_ uint32, payload []byte) {
		time.Sleep(time.Millisecond)
		i, err := strconv.Atoi(string(payload))
		assert.NoError(t, err)
		mu.Lock()
		order = append(order, i)
		if len(order) == n {
			close(done)
		}
		mu.Unlock()
	})

	for i := 0; i < n; i++ {
		require.NoError(t, client.Send(1, []byte(strconv.Itoa(i))))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not all messages dispatched")
	}
	mu.Lock()
	defer mu.Unlock()
	for i := range order {
		assert.Equal(t, i, order[i])
	}
}

func TestChannelConcurrentSends(t *testing.T) {
	server, client := connectedPair(t, Config{}, Config{})
	msgs := collect(server)

	const senders, perSender = 8, 10
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				assert.NoError(t, client.Send(uint32(s), []byte(fmt.Sprintf("%d-%d", s, i))))
			}
		}(s)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < senders*perSender; i++ {
		seen[string(expectMessage(t, msgs, 2*time.Second).payload)] = true
	}
	assert.Len(t, seen, senders*perSender)
	assert.Zero(t, server.Stats().MessagesDropped)
}
