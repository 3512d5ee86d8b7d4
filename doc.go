// Package remotelink implements the secure link between a remote-control
// controller and the host it controls.
//
// Both ends hold a 2048-bit RSA key, authenticate each other over TCP, and
// exchange typed messages that are encrypted, checksummed and timestamped.
// Screen capture and input injection stay outside this module; they plug in
// through the interfaces package and only see (type, payload) buffers.
//
// # Getting Started
//
// The controlled host serves:
//
//	session, err := remotelink.New(remotelink.NewOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	session.OnReceive(func(msgType uint32, payload []byte) {
//	    // apply input events
//	})
//	if err := session.Serve(); err != nil {
//	    log.Fatal(err)
//	}
//	if err := session.WaitConnected(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	err = session.StreamFrames(ctx, capture, 100*time.Millisecond)
//
// The controller connects:
//
//	options := remotelink.NewOptions()
//	options.Retry.Attempts = 5
//	session, err := remotelink.New(options)
//	err = session.Connect(ctx, "192.0.2.10", 9999)
//
// # Core Types
//
//   - [Session]: explicit context object holding the identity and live channel
//   - [Options]: configuration for a new Session
//   - [transport.Channel]: the authenticated, encrypted, capacity-one channel
//   - [transport.NATTraversal]: STUN classification and direct connects
//
// # Peer-to-peer
//
// Two NATed peers can skip the relay if both sit behind cone NATs:
//
//	info, err := session.DiscoverNAT(ctx, 9999)  // share info.PublicAddr() out of band
//	err = session.ConnectP2P(ctx, peerIP, peerPort, 9999)
//
// # Message Types
//
// Type codes are caller-defined and not validated by the transport. This
// package uses [MessageTypeScreenFrame] (1) for captured images and the CLI
// uses [MessageTypeText] (2) for text lines.
//
// # Thread Safety
//
// Session and Channel are safe for concurrent use. Sends are serialized by a
// per-channel write lock. Handlers run on the receive goroutine unless
// Options.DispatchQueue is set, and may call Send or Close.
package remotelink
