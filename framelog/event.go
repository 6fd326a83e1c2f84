package framelog

import "fmt"

// Event identifies one of the fences tracked per frame.
type Event int

const (
	// Acquire signals when the producer finished rendering the frame.
	Acquire Event = iota
	// GPUCompositionDone signals when the compositor finished composing it.
	GPUCompositionDone
	// DisplayPresent signals when the frame reached the display.
	DisplayPresent
	// Release signals when the frame's buffer can be reused.
	Release

	// NumEvents is the number of tracked events.
	NumEvents = iota
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case Acquire:
		return "Acquire"
	case GPUCompositionDone:
		return "GPUCompositionDone"
	case DisplayPresent:
		return "DisplayPresent"
	case Release:
		return "Release"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

func (e Event) valid() bool {
	return e >= 0 && e < NumEvents
}
