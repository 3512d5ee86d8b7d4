package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/remotelink/limits"
)

// createFrame builds a frame: 4-byte big-endian length, then data. The result
// is written with a single Write so concurrent frames never interleave.
func createFrame(data []byte) []byte {
	frame := make([]byte, limits.LengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(frame[:limits.LengthPrefixSize], uint32(len(data)))
	copy(frame[limits.LengthPrefixSize:], data)
	return frame
}

// writeFrame writes one length-prefixed frame.
func writeFrame(w io.Writer, data []byte) error {
	if len(data) == 0 {
		return limits.ErrFrameEmpty
	}
	_, err := w.Write(createFrame(data))
	return err
}

// readFrameLength reads the 4-byte header and validates it against maxSize.
func readFrameLength(r io.Reader, header []byte, maxSize uint32) (uint32, error) {
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, err
	}

	length := binary.BigEndian.Uint32(header)
	if err := limits.ValidateFrameLength(length, maxSize); err != nil {
		return 0, err
	}
	return length, nil
}

// readFrameData reads exactly length bytes, looping over partial reads.
func readFrameData(r io.Reader, length uint32) ([]byte, error) {
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("short frame body: %w", err)
		}
		return nil, err
	}
	return data, nil
}

// readFrame reads one complete length-prefixed frame.
func readFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	header := make([]byte, limits.LengthPrefixSize)
	length, err := readFrameLength(r, header, maxSize)
	if err != nil {
		return nil, err
	}
	return readFrameData(r, length)
}

// isProtocolViolation reports whether a framing error came from a malformed
// length rather than from the socket.
func isProtocolViolation(err error) bool {
	return errors.Is(err, limits.ErrFrameEmpty) || errors.Is(err, limits.ErrFrameTooLarge)
}

// classifyIOError wraps a framing or socket error in a ChannelError of the
// matching kind.
func classifyIOError(op, addr string, err error) *ChannelError {
	if isProtocolViolation(err) {
		return newChannelError(op, addr, ErrProtocol, err)
	}
	return newChannelError(op, addr, ErrConnection, err)
}
