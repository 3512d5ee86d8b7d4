package interfaces

import (
	"errors"
	"fmt"
	"time"
)

// FrameSource captures encoded screen images.
type FrameSource interface {
	// CaptureFull captures the whole screen
	CaptureFull() ([]byte, error)

	// CaptureRegion captures a w by h rectangle with its top-left corner at x, y
	CaptureRegion(x, y, w, h int) ([]byte, error)
}

// MessageSender sends one typed message to the connected peer.
type MessageSender interface {
	Send(msgType uint32, payload []byte) error
}

// Region is a capture rectangle in screen pixels.
type Region struct {
	X, Y          int
	Width, Height int
}

// StreamConfig holds settings for a periodic capture stream.
type StreamConfig struct {
	// Interval is the time between captures
	Interval time.Duration

	// Region limits capture to a rectangle; nil captures the full screen
	Region *Region
}

var (
	// ErrInvalidInterval indicates a non-positive capture interval
	ErrInvalidInterval = errors.New("capture interval must be positive")

	// ErrInvalidRegion indicates a region with negative origin or empty size
	ErrInvalidRegion = errors.New("invalid capture region")
)

// Validate checks the configuration before a stream starts.
func (c *StreamConfig) Validate() error {
	if c.Interval <= 0 {
		return ErrInvalidInterval
	}
	if r := c.Region; r != nil {
		if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 {
			return fmt.Errorf("%w: %dx%d at (%d,%d)", ErrInvalidRegion, r.Width, r.Height, r.X, r.Y)
		}
	}
	return nil
}

// Capture takes one frame from src according to the configured region.
func (c *StreamConfig) Capture(src FrameSource) ([]byte, error) {
	if c.Region == nil {
		return src.CaptureFull()
	}
	r := c.Region
	return src.CaptureRegion(r.X, r.Y, r.Width, r.Height)
}
