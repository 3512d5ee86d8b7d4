package transport

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/remotelink/crypto"
	"github.com/stretchr/testify/require"
)

var (
	testKeysOnce sync.Once
	testKeys     [3]*crypto.KeyPair
	testKeysErr  error
)

// testKeyPairs returns three shared key pairs (server, client, intruder).
// Generating 2048-bit keys per test would dominate the run time.
func testKeyPairs(t *testing.T) (server, client, intruder *crypto.KeyPair) {
	t.Helper()
	testKeysOnce.Do(func() {
		for i := range testKeys {
			testKeys[i], testKeysErr = crypto.GenerateKeyPair()
			if testKeysErr != nil {
				return
			}
		}
	})
	require.NoError(t, testKeysErr)
	return testKeys[0], testKeys[1], testKeys[2]
}

// received is one message seen by a test handler.
type received struct {
	msgType uint32
	payload []byte
}

// collect registers a handler on ch that forwards into a buffered channel.
func collect(ch *Channel) <-chan received {
	out := make(chan received, 64)
	ch.OnReceive(func(msgType uint32, payload []byte) {
		out <- received{msgType: msgType, payload: append([]byte(nil), payload...)}
	})
	return out
}

// expectMessage waits up to timeout for the next message.
func expectMessage(t *testing.T, msgs <-chan received, timeout time.Duration) received {
	t.Helper()
	select {
	case m := <-msgs:
		return m
	case <-time.After(timeout):
		t.Fatalf("no message within %s", timeout)
		return received{}
	}
}

// expectNoMessage asserts nothing arrives within wait.
func expectNoMessage(t *testing.T, msgs <-chan received, wait time.Duration) {
	t.Helper()
	select {
	case m := <-msgs:
		t.Fatalf("unexpected message type=%d payload=%q", m.msgType, m.payload)
	case <-time.After(wait):
	}
}

// startTestServer starts ch on an ephemeral loopback port and returns the port.
func startTestServer(t *testing.T, ch *Channel) int {
	t.Helper()
	require.NoError(t, ch.StartServer("127.0.0.1", 0))
	t.Cleanup(func() { ch.Close() })
	addr, ok := ch.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}

// connectedPair returns a server and a client channel that completed the
// handshake with each other.
func connectedPair(t *testing.T, serverCfg, clientCfg Config) (server, client *Channel) {
	t.Helper()
	serverKeys, clientKeys, _ := testKeyPairs(t)

	server = NewChannelWithKeyPair(serverKeys, serverCfg)
	port := startTestServer(t, server)

	client = NewChannelWithKeyPair(clientKeys, clientCfg)
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx, "127.0.0.1", port))
	require.NoError(t, server.WaitConnected(ctx))
	return server, client
}

// rawPeer dials port and completes the client handshake by hand, returning
// the socket and cipher so a test can write arbitrary frames.
func rawPeer(t *testing.T, port int, keys *crypto.KeyPair) (net.Conn, *crypto.Cipher) {
	t.Helper()
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	result, err := runHandshake(context.Background(), conn, keys, DefaultConfig(), "raw-peer")
	require.NoError(t, err)
	return conn, result.cipher
}
