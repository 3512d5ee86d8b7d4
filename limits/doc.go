// Package limits provides centralized size ceilings and validation functions
// for everything remotelink reads from an untrusted peer.
//
// # Size Hierarchy
//
//   - MaxHandshakeFrame (16 KiB): the largest handshake frame accepted. A PEM
//     encoded RSA-4096 public key is well under 1 KiB, and the encrypted proof
//     token is a single RSA block.
//
//   - MaxFrameSize (32 MiB): the default ceiling for one data frame after
//     chunked RSA encryption. Screen frames are the largest expected payload;
//     chunking inflates them by roughly 256/214.
//
//   - MaxProcessingBuffer (64 MiB): the absolute maximum any configuration may
//     raise MaxFrameSize to. This bounds memory for a single read.
//
// # Validation Functions
//
// Frame lengths arrive as a 4-byte prefix before any payload is read, so
// they are validated as integers:
//
//	if err := limits.ValidateFrameLength(n, limits.MaxFrameSize); err != nil {
//	    // ErrFrameEmpty or ErrFrameTooLarge
//	}
//
// Byte slices already in memory use ValidateMessageSize.
package limits
