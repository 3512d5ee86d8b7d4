package envelope

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// TypeSize is the width of the message type field.
	TypeSize = 4
	// TimestampSize is the width of the millisecond timestamp field.
	TimestampSize = 8
	// HeaderSize is type plus timestamp.
	HeaderSize = TypeSize + TimestampSize
	// ChecksumSize is the SHA-256 digest width, independent of payload size.
	ChecksumSize = sha256.Size
	// MinSize is the length of an envelope with an empty payload.
	MinSize = HeaderSize + ChecksumSize

	// DefaultWindow is how far a timestamp may drift from the receiver's clock.
	DefaultWindow = 30 * time.Second
)

var (
	// ErrTooShort indicates fewer than MinSize bytes
	ErrTooShort = errors.New("envelope too short")

	// ErrReplay indicates a timestamp outside the freshness window
	ErrReplay = errors.New("envelope timestamp outside freshness window")

	// ErrIntegrity indicates the checksum does not match the contents
	ErrIntegrity = errors.New("envelope checksum mismatch")
)

// Result is the outcome of Validate.
type Result uint8

const (
	// Valid means the envelope is fresh and intact.
	Valid Result = iota
	// TooShort means the input cannot hold a header and checksum.
	TooShort
	// Expired means the timestamp is outside the window.
	Expired
	// ChecksumMismatch means the contents were altered.
	ChecksumMismatch
)

func (r Result) String() string {
	switch r {
	case Valid:
		return "Valid"
	case TooShort:
		return "TooShort"
	case Expired:
		return "Expired"
	case ChecksumMismatch:
		return "ChecksumMismatch"
	default:
		return fmt.Sprintf("Result(%d)", uint8(r))
	}
}

// Err maps a failed result to its sentinel error. Valid maps to nil.
func (r Result) Err() error {
	switch r {
	case Valid:
		return nil
	case TooShort:
		return ErrTooShort
	case Expired:
		return ErrReplay
	case ChecksumMismatch:
		return ErrIntegrity
	default:
		return fmt.Errorf("unknown validation result %d", uint8(r))
	}
}

// Envelope is a decoded message.
type Envelope struct {
	Type        uint32
	TimestampMs uint64
	Payload     []byte
	Checksum    [ChecksumSize]byte
}

// Time returns the sender's timestamp.
func (e *Envelope) Time() time.Time {
	return time.UnixMilli(int64(e.TimestampMs))
}

// Validator packs and checks envelopes against a freshness window.
type Validator struct {
	window       time.Duration
	timeProvider TimeProvider
}

// NewValidator creates a validator with DefaultWindow and the system clock.
func NewValidator() *Validator {
	return NewValidatorWithWindow(DefaultWindow, nil)
}

// NewValidatorWithWindow creates a validator with a custom window and clock.
// A non-positive window selects DefaultWindow; a nil clock selects the system clock.
func NewValidatorWithWindow(window time.Duration, tp TimeProvider) *Validator {
	if window <= 0 {
		window = DefaultWindow
	}
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	return &Validator{window: window, timeProvider: tp}
}

// Window returns the freshness window.
func (v *Validator) Window() time.Duration {
	return v.window
}

// Pack serializes a message stamped with the validator's current time.
func (v *Validator) Pack(msgType uint32, payload []byte) []byte {
	return PackAt(msgType, v.timeProvider.Now(), payload)
}

// PackAt serializes a message with an explicit timestamp.
func PackAt(msgType uint32, at time.Time, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload), MinSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:TypeSize], msgType)
	binary.BigEndian.PutUint64(buf[TypeSize:HeaderSize], uint64(at.UnixMilli()))
	copy(buf[HeaderSize:], payload)

	sum := sha256.Sum256(buf)
	return append(buf, sum[:]...)
}

// Pack serializes a message stamped with the system clock.
func Pack(msgType uint32, payload []byte) []byte {
	return PackAt(msgType, time.Now(), payload)
}

// Unpack splits an envelope into its type and payload. It does not check the
// timestamp or checksum; callers that dispatch the result must Validate first.
func Unpack(data []byte) (uint32, []byte, error) {
	env, err := decode(data)
	if err != nil {
		return 0, nil, err
	}
	return env.Type, env.Payload, nil
}

func decode(data []byte) (*Envelope, error) {
	if len(data) < MinSize {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrTooShort, len(data), MinSize)
	}

	body := len(data) - ChecksumSize
	env := &Envelope{
		Type:        binary.BigEndian.Uint32(data[0:TypeSize]),
		TimestampMs: binary.BigEndian.Uint64(data[TypeSize:HeaderSize]),
		Payload:     make([]byte, body-HeaderSize),
	}
	copy(env.Payload, data[HeaderSize:body])
	copy(env.Checksum[:], data[body:])
	return env, nil
}

// Validate checks length, then freshness, then the checksum.
func (v *Validator) Validate(data []byte) Result {
	if len(data) < MinSize {
		return TooShort
	}

	ts := binary.BigEndian.Uint64(data[TypeSize:HeaderSize])
	if !v.fresh(ts) {
		return Expired
	}

	body := len(data) - ChecksumSize
	sum := sha256.Sum256(data[:body])
	if !bytes.Equal(sum[:], data[body:]) {
		return ChecksumMismatch
	}

	return Valid
}

func (v *Validator) fresh(tsMs uint64) bool {
	if tsMs > math.MaxInt64 {
		return false
	}
	nowMs := v.timeProvider.Now().UnixMilli()
	drift := nowMs - int64(tsMs)
	if drift < 0 {
		drift = -drift
	}
	return drift <= v.window.Milliseconds()
}

// Open validates data and, only if it is Valid, decodes it.
func (v *Validator) Open(data []byte) (*Envelope, Result) {
	if result := v.Validate(data); result != Valid {
		return nil, result
	}
	env, err := decode(data)
	if err != nil {
		return nil, TooShort
	}
	return env, Valid
}
