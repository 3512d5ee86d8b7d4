package transport

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"time"

	"github.com/opd-ai/remotelink/crypto"
	"github.com/opd-ai/remotelink/limits"
	"github.com/sirupsen/logrus"
)

// handshakeResult is what a successful handshake binds to a channel.
type handshakeResult struct {
	cipher      *crypto.Cipher
	fingerprint string
}

// runHandshake performs the symmetric four-step handshake on conn:
//
//  1. send own public key          [len][PEM]
//  2. receive the peer public key  [len][PEM]
//  3. send the token encrypted under the peer key
//  4. receive the peer's token, decrypt, compare
//
// Both ends run the same sequence. Each step's send overlaps its receive so
// neither side can stall on a full socket buffer. Any failure leaves conn
// open; the caller decides whether to close it.
func runHandshake(ctx context.Context, conn net.Conn, keys *crypto.KeyPair, cfg Config, attemptID string) (*handshakeResult, error) {
	addr := conn.RemoteAddr().String()
	log := logrus.WithFields(logrus.Fields{
		"function":   "runHandshake",
		"remote":     addr,
		"attempt_id": attemptID,
	})
	log.Debug("Starting handshake")

	deadline := time.Now().Add(cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, newChannelError("handshake", addr, ErrConnection, err)
	}
	stop := context.AfterFunc(ctx, func() {
		// Unblock pending I/O on cancellation.
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	cipher := crypto.NewCipher(keys)
	ownKey, err := cipher.PublicKeyPEM()
	if err != nil {
		return nil, newChannelError("handshake", addr, ErrAuthentication, err)
	}

	peerKey, err := exchangeFrames(conn, ownKey)
	if err != nil {
		return nil, classifyIOError("handshake", addr, err)
	}
	if err := cipher.SetPeerPublicKey(peerKey); err != nil {
		return nil, newChannelError("handshake", addr, ErrAuthentication, err)
	}

	fingerprint, err := crypto.Fingerprint(cipher.PeerKey())
	if err != nil {
		return nil, newChannelError("handshake", addr, ErrAuthentication, err)
	}
	log = log.WithField("peer_fingerprint", fingerprint)
	if cfg.PeerFingerprint != "" && subtle.ConstantTimeCompare([]byte(fingerprint), []byte(cfg.PeerFingerprint)) != 1 {
		return nil, newChannelError("handshake", addr, ErrAuthentication,
			fmt.Errorf("peer key %s does not match pinned fingerprint", fingerprint))
	}

	proof, err := cipher.Encrypt(cfg.AuthToken)
	if err != nil {
		return nil, newChannelError("handshake", addr, ErrAuthentication, err)
	}

	peerProof, err := exchangeFrames(conn, proof)
	if err != nil {
		return nil, classifyIOError("handshake", addr, err)
	}

	token, err := cipher.Decrypt(peerProof)
	if err != nil {
		return nil, newChannelError("handshake", addr, ErrAuthentication, err)
	}
	if subtle.ConstantTimeCompare(token, cfg.AuthToken) != 1 {
		return nil, newChannelError("handshake", addr, ErrAuthentication, fmt.Errorf("proof token mismatch"))
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, newChannelError("handshake", addr, ErrConnection, err)
	}

	log.Info("Handshake complete")
	return &handshakeResult{cipher: cipher, fingerprint: fingerprint}, nil
}

// exchangeFrames sends out and receives one frame concurrently.
func exchangeFrames(conn net.Conn, out []byte) ([]byte, error) {
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeFrame(conn, out)
	}()

	in, readErr := readFrame(conn, limits.MaxHandshakeFrame)
	if err := <-writeErr; err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, readErr
	}
	return in, nil
}
