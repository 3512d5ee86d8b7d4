package interfaces

import "time"

// MouseButton selects the button for InputController.Click.
type MouseButton uint8

const (
	MouseLeft MouseButton = iota
	MouseRight
	MouseMiddle
)

func (b MouseButton) String() string {
	switch b {
	case MouseLeft:
		return "left"
	case MouseRight:
		return "right"
	case MouseMiddle:
		return "middle"
	default:
		return "unknown"
	}
}

// ScrollDirection selects the wheel direction for InputController.Scroll.
type ScrollDirection uint8

const (
	ScrollUp ScrollDirection = iota
	ScrollDown
)

func (d ScrollDirection) String() string {
	if d == ScrollDown {
		return "down"
	}
	return "up"
}

// InputController injects mouse and keyboard events on the controlled host.
// Implementations are platform specific and chosen once at startup.
type InputController interface {
	// Move positions the pointer at x, y, or offsets it when relative is set
	Move(x, y int, relative bool) error

	// Click presses and releases button, twice when double is set
	Click(button MouseButton, double bool) error

	// Scroll turns the wheel by amount notches
	Scroll(direction ScrollDirection, amount int) error

	// Press taps one named key such as "enter" or "a"
	Press(key string) error

	// Type enters text one character at a time with interval between keys
	Type(text string, interval time.Duration) error
}
