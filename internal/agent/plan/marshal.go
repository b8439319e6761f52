package plan

import "encoding/json"

// MarshalJSON emits exactly the fields that belong to the action's variant,
// including zero-valued required fields (a click at x=0 must round-trip).
func (a Action) MarshalJSON() ([]byte, error) {
	m := map[string]any{"type": string(a.Type)}
	switch a.Type {
	case ActionTypeText:
		m["text"] = a.Text
	case ActionKeyPress:
		m["key"] = a.Key
	case ActionHotkey:
		m["keys"] = a.Keys
	case ActionWaitMs:
		m["ms"] = a.Ms
	case ActionMouseClick:
		m["x"], m["y"] = a.X, a.Y
		m["button"] = a.Button
		m["clicks"] = a.Clicks
	case ActionMouseScroll:
		m["x"], m["y"] = a.X, a.Y
		m["direction"] = a.Direction
		m["clicks"] = a.Clicks
	case ActionAskUser:
		m["question"] = a.Question
		m["options"] = a.Options
	case ActionStop:
		m["reason"] = a.Reason
	}
	return json.Marshal(m)
}
