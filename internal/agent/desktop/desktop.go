// Package desktop defines the narrow collaborator interfaces the control
// loop consumes: capture a frame, read the foreground window identity,
// inject a validated action. The loop never touches pixels or OS input
// below these interfaces.
package desktop

import (
	"context"
	"image"

	"github.com/aiklabs/aik/internal/agent/plan"
)

// Frame is one captured screen observation.
type Frame struct {
	PNG    []byte
	Width  int
	Height int
	Bounds image.Rectangle
}

// Window identifies the foreground window. Empty fields mean "unknown" and
// must be tolerated by every consumer.
type Window struct {
	Title       string
	ProcessPath string
	PID         int
}

// Capturer produces frames on demand.
type Capturer interface {
	Capture() (*Frame, error)
}

// Windower reads the foreground window identity.
type Windower interface {
	Foreground() (Window, error)
}

// Injector executes validated actions against the desktop. The loop treats
// execution as fire-and-observe: Execute must return before the next action
// in the same plan is dispatched, nothing more. The remaining methods serve
// the backtrack ladder.
type Injector interface {
	Execute(ctx context.Context, a plan.Action) error

	// Dismiss sends a generic escape signal to the foreground UI.
	Dismiss(ctx context.Context) error
	// NeutralClick clicks a harmless screen region to restore focus.
	NeutralClick(ctx context.Context) error
	// SwitchWindow cycles to the next window and back.
	SwitchWindow(ctx context.Context) error
}
