// Package transport provides the authenticated, encrypted point-to-point
// channel between a controller and a controlled host, plus the STUN based NAT
// discovery used to open a direct connection between two NATed peers.
//
// # Channel
//
// A Channel carries typed messages over one TCP connection:
//
//	ch, err := transport.NewChannel(transport.DefaultConfig())
//	ch.OnReceive(func(msgType uint32, payload []byte) { ... })
//	err = ch.StartServer("0.0.0.0", 9999)    // or ch.Connect(ctx, host, port)
//	err = ch.Send(1, frame)
//
// The channel has capacity one. A server accepts sockets until the first
// handshake succeeds, then closes its listener; later sockets are refused.
// State only moves forward:
//
//	Idle -> Listening | Connecting -> Authenticating -> Connected -> Closed
//
// Closed is terminal. Reconnecting means creating a new Channel, which
// ConnectWithBackoff does for callers that want retries.
//
// # Wire format
//
// Every frame is a 4-byte big-endian length followed by that many bytes.
//
//	handshake 1:  [len][PEM public key]                 both directions
//	handshake 2:  [len][RSA-OAEP(token)]                both directions
//	data:         [len][RSA-OAEP(envelope)]             either direction
//
// RSA-OAEP uses SHA-1 with 2048-bit keys, so plaintext is split into 214-byte
// chunks and each chunk encrypts to 256 bytes. The envelope format lives in
// package envelope.
//
// # Failure handling
//
// Socket errors and malformed frame lengths close the channel, and the cause
// is kept in Err. A frame that fails decryption or envelope validation is
// dropped and counted in Stats; the connection stays up.
//
// # Security
//
// The handshake proves possession of the private key by decrypting a fixed,
// public token. That proof has no forward secrecy, and an attacker who
// records one exchange can replay the encrypted token to a peer holding the
// same key. It is kept for wire compatibility. Config.PeerFingerprint pins
// the peer key and stops key substitution, not replay.
//
// # NAT traversal
//
// NATTraversal classifies the local NAT with the RFC 3489 test sequence
// against a STUN server, and dials the peer's public endpoint from the same
// local port:
//
//	nt := transport.NewNATTraversal("stun.l.google.com:19302")
//	conn, err := nt.AttemptConnect(ctx, peerIP, peerPort, 9999)
//	err = ch.Attach(ctx, conn)
//
// Only full cone, restricted cone and port restricted cone NATs are treated
// as traversable. Nothing in this package retries a NAT failure.
package transport
