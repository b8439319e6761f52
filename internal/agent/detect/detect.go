// Package detect compares before/after observations to flag actions that
// had no visible effect, landed in the wrong window, or popped an error
// dialog. It never performs recovery itself; the advisor output feeds back
// into the next planning prompt.
package detect

import (
	"fmt"
	"strings"

	"github.com/aiklabs/aik/internal/agent/desktop"
)

// UnchangedSimilarityThreshold is the similarity above which the screen is
// considered visually unchanged.
const UnchangedSimilarityThreshold = 0.985

// FailureSignals summarizes what changed (or failed to change) between two
// loop observations.
type FailureSignals struct {
	Similarity           float64 `json:"screen_similarity"`
	Unchanged            bool    `json:"screen_unchanged"`
	TitleChanged         bool    `json:"window_title_changed"`
	ProcessChanged       bool    `json:"window_process_changed"`
	ErrorDialogSuspected bool    `json:"error_dialog_suspected"`
	WrongApp             bool    `json:"wrong_app,omitempty"`
	Details              string  `json:"details,omitempty"`
}

// errorDialogKeywords flag window titles that look like error, warning, or
// security prompts.
var errorDialogKeywords = []string{
	"error", "warning", "denied", "access denied", "permission",
	"user account control", "uac", "not responding", "crash",
	"has stopped", "do you want", "are you sure",
}

// Detect compares the frames and window identities around an executed plan.
// expectedProcess, when non-empty, additionally flags focus landing in a
// different application.
func Detect(before, after *desktop.Frame, beforeWin, afterWin desktop.Window, expectedProcess string) FailureSignals {
	sim := Similarity(before, after)
	unchanged := sim >= UnchangedSimilarityThreshold

	titleChanged := beforeWin.Title != afterWin.Title
	procChanged := beforeWin.ProcessPath != afterWin.ProcessPath
	errorDialog := SuspectErrorDialog(afterWin.Title)

	wrongApp := false
	if expectedProcess != "" && afterWin.ProcessPath != "" {
		wrongApp = !strings.Contains(strings.ToLower(afterWin.ProcessPath), strings.ToLower(expectedProcess))
	}

	parts := []string{fmt.Sprintf("screen_similarity=%.3f", sim)}
	if titleChanged {
		parts = append(parts, fmt.Sprintf("window_title_changed: %q -> %q", beforeWin.Title, afterWin.Title))
	}
	if procChanged {
		parts = append(parts, fmt.Sprintf("window_process_changed: %q -> %q", beforeWin.ProcessPath, afterWin.ProcessPath))
	}
	if unchanged {
		parts = append(parts, "screen_unchanged=true (action may have had no effect)")
	}
	if errorDialog {
		parts = append(parts, fmt.Sprintf("error_dialog_suspected: title=%q", afterWin.Title))
	}
	if wrongApp {
		parts = append(parts, fmt.Sprintf("wrong_app: expected=%q, got=%q", expectedProcess, afterWin.ProcessPath))
	}

	return FailureSignals{
		Similarity:           sim,
		Unchanged:            unchanged,
		TitleChanged:         titleChanged,
		ProcessChanged:       procChanged,
		ErrorDialogSuspected: errorDialog,
		WrongApp:             wrongApp,
		Details:              strings.Join(parts, "; "),
	}
}

// SuspectErrorDialog reports whether a window title looks like an error or
// security prompt.
func SuspectErrorDialog(title string) bool {
	t := strings.ToLower(title)
	for _, kw := range errorDialogKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}
