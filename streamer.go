package remotelink

import (
	"context"
	"time"

	"github.com/opd-ai/remotelink/interfaces"
	"github.com/sirupsen/logrus"
)

// StreamFrames captures the full screen from src every interval and sends
// each image as a screen frame. It returns when ctx ends or a send fails.
func (s *Session) StreamFrames(ctx context.Context, src interfaces.FrameSource, interval time.Duration) error {
	return s.Stream(ctx, src, interfaces.StreamConfig{Interval: interval})
}

// Stream is StreamFrames with an optional capture region.
//
// A failed capture skips that tick. A failed send ends the stream, since it
// means the channel closed.
func (s *Session) Stream(ctx context.Context, src interfaces.FrameSource, cfg interfaces.StreamConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logrus.WithFields(logrus.Fields{
		"function": "Stream",
		"interval": cfg.Interval.String(),
	})
	log.Info("Frame stream started")

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	var sent, skipped int
	for {
		frame, err := cfg.Capture(src)
		switch {
		case err != nil:
			skipped++
			log.WithField("error", err.Error()).Warn("Frame capture failed")
		case len(frame) == 0:
			skipped++
		default:
			if err := s.SendFrame(frame); err != nil {
				log.WithFields(logrus.Fields{
					"error":  err.Error(),
					"frames": sent,
				}).Warn("Frame stream stopped")
				return err
			}
			sent++
		}

		select {
		case <-ctx.Done():
			log.WithFields(logrus.Fields{
				"frames":  sent,
				"skipped": skipped,
			}).Info("Frame stream finished")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
