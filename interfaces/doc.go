// Package interfaces defines the contracts between the secure transport and
// the platform code around it.
//
// The transport only moves (type, payload) buffers. Screen capture and input
// injection live outside it and plug in through these interfaces, with one
// implementation per platform chosen once at startup:
//
//	var src interfaces.FrameSource = newPlatformCapture() // embedding app
//	err := session.StreamFrames(ctx, src, 100*time.Millisecond)
//
// [InputController] is the matching contract for mouse and keyboard
// injection on the controlled host.
//
// [MessageSender] is satisfied by *transport.Channel and *remotelink.Session,
// so code that only sends can take the narrower interface.
//
// # Configuration
//
// [StreamConfig] describes a capture stream and is checked with Validate
// before any capture starts:
//
//	cfg := interfaces.StreamConfig{
//	    Interval: 100 * time.Millisecond,
//	    Region:   &interfaces.Region{X: 0, Y: 0, Width: 800, Height: 600},
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// A FrameSource is called from a single streaming goroutine. An
// InputController is driven by one message handler at a time. MessageSender
// implementations must be safe for concurrent use.
package interfaces
