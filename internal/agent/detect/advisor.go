package detect

// Severity ranks recovery advice.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Advice is human-readable guidance injected into the next planning prompt.
// It is never executed automatically.
type Advice struct {
	Note             string
	Severity         Severity
	SuggestedActions []string
}

// SuggestRecovery maps failure signals to the single most relevant piece of
// advice. Priority: error dialog > screen unchanged > process changed >
// title changed > nothing.
func SuggestRecovery(signals FailureSignals) *Advice {
	if signals.ErrorDialogSuspected {
		return &Advice{
			Note: "Observation: An error dialog, UAC prompt, or warning may have appeared. " +
				"The current window title suggests an error or security prompt. " +
				"Try pressing Escape or Enter to dismiss it, or Alt+Tab to return " +
				"to the target application.",
			Severity: SeverityCritical,
			SuggestedActions: []string{
				"Press Escape to dismiss dialog",
				"Press Enter to accept default",
				"Alt+Tab to return to target app",
			},
		}
	}

	if signals.Unchanged {
		return &Advice{
			Note: "Observation: The screen looks unchanged after the last keys. " +
				"The shortcut may not have worked, or the target window may not " +
				"be focused. Try an alternative navigation path. " +
				"For example, if Ctrl+N didn't work, try File menu > New instead.",
			Severity: SeverityWarning,
			SuggestedActions: []string{
				"Try alternative keyboard shortcut",
				"Use menu navigation (Alt+F, then menu item letter)",
				"Click on the target window first (Alt+Tab)",
				"Try Win+R for Run dialog if launching apps",
			},
		}
	}

	if signals.ProcessChanged {
		return &Advice{
			Note: "Observation: A different application came to the foreground " +
				"after the last keys. This may mean the wrong app opened, or " +
				"another app stole focus. Use Alt+Tab to return to the intended " +
				"application, or close the unexpected window with Alt+F4.",
			Severity: SeverityWarning,
			SuggestedActions: []string{
				"Alt+Tab to return to intended app",
				"Alt+F4 to close unexpected window",
				"Verify correct app is focused before retrying",
			},
		}
	}

	if signals.TitleChanged {
		return &Advice{
			Note: "Observation: The window title changed after the last action. " +
				"This could be normal (e.g., a dialog opened) or unexpected. " +
				"Verify the current state matches your expectations before proceeding.",
			Severity: SeverityInfo,
		}
	}

	return nil
}
