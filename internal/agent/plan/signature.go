package plan

import (
	"fmt"
	"sort"
	"strings"
)

// Signature returns a normalized key identifying the action's semantic
// identity for repeat detection. Hotkey order is insensitive; text is
// lowercased. Mouse coordinates are included because a click at a different
// position is a different action.
func (a Action) Signature() string {
	switch a.Type {
	case ActionTypeText:
		return "type_text:" + strings.ToLower(strings.TrimSpace(a.Text))
	case ActionKeyPress:
		return "key_press:" + a.Key
	case ActionHotkey:
		keys := append([]string(nil), a.Keys...)
		sort.Strings(keys)
		return "hotkey:" + strings.Join(keys, "+")
	case ActionWaitMs:
		return "wait_ms"
	case ActionStop:
		return "stop"
	case ActionMouseClick:
		return fmt.Sprintf("mouse_click:%d,%d:%s:%d", a.X, a.Y, a.Button, a.Clicks)
	case ActionMouseScroll:
		return fmt.Sprintf("mouse_scroll:%d,%d:%s", a.X, a.Y, a.Direction)
	case ActionAskUser:
		return "ask_user:" + strings.ToLower(a.Question)
	}
	return string(a.Type)
}

// Signature fingerprints the whole plan for repetition detection: the same
// signature two iterations in a row with an unchanged screen means stuck.
func (p *Plan) Signature() string {
	parts := make([]string, 0, len(p.Actions))
	for _, a := range p.Actions {
		parts = append(parts, a.Signature())
	}
	return strings.Join(parts, "|")
}

// Summary renders a short human-readable description of the action for
// step logs and prompt recaps.
func (a Action) Summary() string {
	switch a.Type {
	case ActionTypeText:
		return fmt.Sprintf("typed %q", truncate(a.Text, 50))
	case ActionKeyPress:
		return "pressed " + a.Key
	case ActionHotkey:
		return "hotkey " + strings.Join(a.Keys, "+")
	case ActionWaitMs:
		return fmt.Sprintf("waited %dms", a.Ms)
	case ActionMouseClick:
		return fmt.Sprintf("clicked (%d,%d) %s", a.X, a.Y, a.Button)
	case ActionMouseScroll:
		return fmt.Sprintf("scrolled %s at (%d,%d)", a.Direction, a.X, a.Y)
	case ActionAskUser:
		return fmt.Sprintf("asked: %s", truncate(a.Question, 40))
	case ActionStop:
		return fmt.Sprintf("stop: %s", truncate(a.Reason, 50))
	}
	return string(a.Type)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
