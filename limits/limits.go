// Package limits provides centralized size limits for the remotelink wire protocol.
// This ensures consistent validation across the handshake and data phases.
package limits

import (
	"errors"
	"fmt"
)

const (
	// LengthPrefixSize is the size of the big-endian length header on every frame.
	LengthPrefixSize = 4

	// MaxHandshakeFrame bounds the public key and proof frames of the handshake.
	MaxHandshakeFrame = 16 * 1024

	// MaxFrameSize is the default limit for one encrypted data frame.
	MaxFrameSize = 32 * 1024 * 1024

	// MaxProcessingBuffer is the absolute maximum for any single read.
	// Configured frame limits are clamped to it to prevent memory exhaustion.
	MaxProcessingBuffer = 64 * 1024 * 1024

	// MinPeerKeyBits is the smallest RSA modulus accepted from a peer.
	MinPeerKeyBits = 2048
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrFrameEmpty indicates a frame header announced zero bytes
	ErrFrameEmpty = errors.New("zero-length frame")

	// ErrFrameTooLarge indicates a frame header announced more bytes than allowed
	ErrFrameTooLarge = errors.New("frame too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateFrameLength validates a length prefix read from the wire before the
// frame body is allocated.
func ValidateFrameLength(length uint32, maxSize uint32) error {
	if length == 0 {
		return ErrFrameEmpty
	}
	if length > maxSize {
		return fmt.Errorf("%w: announced %d bytes, limit %d", ErrFrameTooLarge, length, maxSize)
	}
	return nil
}

// ClampFrameSize returns size bounded to (0, MaxProcessingBuffer].
// A zero size selects MaxFrameSize.
func ClampFrameSize(size uint32) uint32 {
	if size == 0 {
		return MaxFrameSize
	}
	if size > MaxProcessingBuffer {
		return MaxProcessingBuffer
	}
	return size
}
