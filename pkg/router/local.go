package router

import (
	"fmt"
	"time"
)

// LocalAnswer produces the deterministic reply for a local intent.
// Returns false when the intent has no local handler, in which case the
// pipeline falls back to the model.
func LocalAnswer(intent string, now time.Time) (string, bool) {
	switch intent {
	case "time":
		return fmt.Sprintf("It's %s.", now.Format("3:04 PM")), true
	case "identity":
		return "I'm PANDA, your personal assistant. I route what you say to the right place and answer what I can myself.", true
	default:
		return "", false
	}
}
