package interfaces

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// recordingInput logs every call it receives.
type recordingInput struct {
	calls []string
}

func (r *recordingInput) Move(x, y int, relative bool) error {
	r.calls = append(r.calls, fmt.Sprintf("move %d,%d relative=%t", x, y, relative))
	return nil
}

func (r *recordingInput) Click(button MouseButton, double bool) error {
	r.calls = append(r.calls, fmt.Sprintf("click %s double=%t", button, double))
	return nil
}

func (r *recordingInput) Scroll(direction ScrollDirection, amount int) error {
	r.calls = append(r.calls, fmt.Sprintf("scroll %s %d", direction, amount))
	return nil
}

func (r *recordingInput) Press(key string) error {
	r.calls = append(r.calls, "press "+key)
	return nil
}

func (r *recordingInput) Type(text string, interval time.Duration) error {
	r.calls = append(r.calls, fmt.Sprintf("type %q every %s", text, interval))
	return nil
}

func TestInputControllerContract(t *testing.T) {
	rec := &recordingInput{}
	var in InputController = rec

	assert.NoError(t, in.Move(10, 20, false))
	assert.NoError(t, in.Click(MouseRight, true))
	assert.NoError(t, in.Scroll(ScrollDown, 3))
	assert.NoError(t, in.Press("enter"))
	assert.NoError(t, in.Type("hi", 50*time.Millisecond))

	assert.Equal(t, []string{
		"move 10,20 relative=false",
		"click right double=true",
		"scroll down 3",
		"press enter",
		`type "hi" every 50ms`,
	}, rec.calls)
}

func TestInputEnumStrings(t *testing.T) {
	assert.Equal(t, "left", MouseLeft.String())
	assert.Equal(t, "middle", MouseMiddle.String())
	assert.Equal(t, "unknown", MouseButton(9).String())
	assert.Equal(t, "up", ScrollUp.String())
	assert.Equal(t, "down", ScrollDown.String())
}
