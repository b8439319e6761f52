// Package plan parses and validates the JSON action plan returned by the
// vision model. Raw model text goes in, a closed set of typed actions comes
// out — nothing downstream of this package ever sees an untyped map.
package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ActionType identifies one of the fixed action variants.
type ActionType string

const (
	ActionTypeText    ActionType = "type_text"
	ActionKeyPress    ActionType = "key_press"
	ActionHotkey      ActionType = "hotkey"
	ActionWaitMs      ActionType = "wait_ms"
	ActionMouseClick  ActionType = "mouse_click"
	ActionMouseScroll ActionType = "mouse_scroll"
	ActionAskUser     ActionType = "ask_user"
	ActionStop        ActionType = "stop"
)

// Bounds for validated plans. Out-of-range numeric input is clamped into
// these ranges rather than rejected.
const (
	MaxPlanActions = 6
	MaxWaitMs      = 60000
	MaxClickCount  = 3
	MaxScrollCount = 20
	MaxAskOptions  = 6
)

// allowedTypes is the fixed action vocabulary.
var allowedTypes = map[ActionType]bool{
	ActionTypeText:    true,
	ActionKeyPress:    true,
	ActionHotkey:      true,
	ActionWaitMs:      true,
	ActionMouseClick:  true,
	ActionMouseScroll: true,
	ActionAskUser:     true,
	ActionStop:        true,
}

// Action is one validated action. Only the fields for its Type are set.
type Action struct {
	Type ActionType `json:"type"`

	// type_text
	Text string `json:"text,omitempty"`

	// key_press
	Key string `json:"key,omitempty"`

	// hotkey
	Keys []string `json:"keys,omitempty"`

	// wait_ms
	Ms int `json:"ms,omitempty"`

	// mouse_click / mouse_scroll
	X         int    `json:"x,omitempty"`
	Y         int    `json:"y,omitempty"`
	Button    string `json:"button,omitempty"`
	Clicks    int    `json:"clicks,omitempty"`
	Direction string `json:"direction,omitempty"`

	// ask_user
	Question string   `json:"question,omitempty"`
	Options  []string `json:"options,omitempty"`

	// stop
	Reason string `json:"reason,omitempty"`
}

// Meta carries the free-form plan metadata the model may attach.
type Meta struct {
	Observation         string  `json:"observation,omitempty"`
	Thinking            string  `json:"thinking,omitempty"`
	Progress            string  `json:"progress,omitempty"`
	EstimatedTotalSteps int     `json:"estimated_total_steps,omitempty"`
	ExpectedOutcome     string  `json:"expected_outcome,omitempty"`
	Confidence          float64 `json:"confidence,omitempty"`
}

// Plan is a bounded, ordered list of validated actions plus metadata.
type Plan struct {
	Actions []Action `json:"actions"`
	Meta    Meta     `json:"meta,omitempty"`
}

// IsStop reports whether the plan's first action is a stop.
func (p *Plan) IsStop() bool {
	return len(p.Actions) > 0 && p.Actions[0].Type == ActionStop
}

// ParseError describes why a model response failed validation. Index is the
// offending action index (-1 for plan-level problems) and Field names the
// bad field when known. ParseError is recoverable: callers send the error
// text back to the model in a repair prompt.
type ParseError struct {
	Index int
	Field string
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Index < 0 {
		return e.Msg
	}
	if e.Field != "" {
		return fmt.Sprintf("action #%d: field %q: %s", e.Index, e.Field, e.Msg)
	}
	return fmt.Sprintf("action #%d: %s", e.Index, e.Msg)
}

func planErr(msg string) *ParseError {
	return &ParseError{Index: -1, Msg: msg}
}

func actionErr(idx int, field, msg string) *ParseError {
	return &ParseError{Index: idx, Field: field, Msg: msg}
}

// Parse validates raw model text into a Plan. It tolerates code fences,
// leading prose, and trailing chatter around the JSON object.
func Parse(text string) (*Plan, error) {
	obj, err := extractObject(text)
	if err != nil {
		return nil, err
	}

	rawActions, ok := obj["actions"]
	if !ok {
		return nil, planErr(`JSON must contain an "actions" array`)
	}
	list, ok := rawActions.([]any)
	if !ok {
		return nil, planErr(`"actions" must be an array`)
	}
	if len(list) > MaxPlanActions {
		list = list[:MaxPlanActions]
	}

	p := &Plan{Actions: make([]Action, 0, len(list))}
	for i, raw := range list {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, actionErr(i, "", "must be an object")
		}
		a, err := normalizeAction(m, i)
		if err != nil {
			return nil, err
		}
		p.Actions = append(p.Actions, a)
	}

	if rawMeta, ok := obj["meta"].(map[string]any); ok {
		p.Meta = parseMeta(rawMeta)
	}

	return p, nil
}

func parseMeta(m map[string]any) Meta {
	meta := Meta{
		Observation:     coerceString(m["observation"]),
		Thinking:        coerceString(m["thinking"]),
		Progress:        coerceString(m["progress"]),
		ExpectedOutcome: coerceString(m["expected_outcome"]),
	}
	if n, ok := coerceInt(m["estimated_total_steps"]); ok && n > 0 {
		meta.EstimatedTotalSteps = n
	}
	if f, ok := coerceFloat(m["confidence"]); ok {
		meta.Confidence = clampFloat(f, 0, 1)
	}
	return meta
}

// normalizeAction projects one raw action object onto its typed variant,
// coercing and clamping numeric fields per the documented ranges.
func normalizeAction(m map[string]any, idx int) (Action, error) {
	rawType, ok := m["type"].(string)
	if !ok {
		return Action{}, actionErr(idx, "type", `missing string field "type"`)
	}
	t := ActionType(strings.ToLower(strings.TrimSpace(rawType)))
	if !allowedTypes[t] {
		return Action{}, actionErr(idx, "type", fmt.Sprintf("unsupported type %q", rawType))
	}

	switch t {
	case ActionTypeText:
		text, ok := m["text"].(string)
		if !ok {
			return Action{}, actionErr(idx, "text", `type_text requires string "text"`)
		}
		return Action{Type: t, Text: text}, nil

	case ActionKeyPress:
		key, ok := m["key"].(string)
		if !ok {
			return Action{}, actionErr(idx, "key", `key_press requires string "key"`)
		}
		return Action{Type: t, Key: strings.ToLower(strings.TrimSpace(key))}, nil

	case ActionHotkey:
		rawKeys, ok := m["keys"].([]any)
		if !ok {
			return Action{}, actionErr(idx, "keys", `hotkey requires string array "keys"`)
		}
		keys := make([]string, 0, len(rawKeys))
		for _, rk := range rawKeys {
			s, ok := rk.(string)
			if !ok {
				return Action{}, actionErr(idx, "keys", `hotkey requires string array "keys"`)
			}
			s = strings.ToLower(strings.TrimSpace(s))
			if s != "" {
				keys = append(keys, s)
			}
		}
		if len(keys) == 0 {
			return Action{}, actionErr(idx, "keys", "hotkey needs at least 1 key")
		}
		return Action{Type: t, Keys: keys}, nil

	case ActionWaitMs:
		ms, ok := coerceInt(m["ms"])
		if !ok {
			return Action{}, actionErr(idx, "ms", `wait_ms requires numeric "ms"`)
		}
		return Action{Type: t, Ms: clampInt(ms, 0, MaxWaitMs)}, nil

	case ActionMouseClick:
		x, y, err := coerceCoords(m, idx)
		if err != nil {
			return Action{}, err
		}
		button := strings.ToLower(strings.TrimSpace(coerceString(m["button"])))
		switch button {
		case "left", "right", "middle":
		default:
			button = "left"
		}
		clicks, ok := coerceInt(m["clicks"])
		if !ok {
			clicks = 1
		}
		return Action{
			Type: t, X: x, Y: y,
			Button: button,
			Clicks: clampInt(clicks, 1, MaxClickCount),
		}, nil

	case ActionMouseScroll:
		x, y, err := coerceCoords(m, idx)
		if err != nil {
			return Action{}, err
		}
		direction := strings.ToLower(strings.TrimSpace(coerceString(m["direction"])))
		if direction != "up" && direction != "down" {
			direction = "down"
		}
		clicks, ok := coerceInt(m["clicks"])
		if !ok {
			clicks = 3
		}
		return Action{
			Type: t, X: x, Y: y,
			Direction: direction,
			Clicks:    clampInt(clicks, 1, MaxScrollCount),
		}, nil

	case ActionAskUser:
		question := strings.TrimSpace(coerceString(m["question"]))
		if question == "" {
			return Action{}, actionErr(idx, "question", `ask_user requires non-empty "question"`)
		}
		rawOpts, ok := m["options"].([]any)
		if !ok {
			return Action{}, actionErr(idx, "options", `ask_user requires string array "options"`)
		}
		opts := make([]string, 0, len(rawOpts))
		for _, ro := range rawOpts {
			s, ok := ro.(string)
			if !ok {
				return Action{}, actionErr(idx, "options", `ask_user requires string array "options"`)
			}
			s = strings.TrimSpace(s)
			if s != "" {
				opts = append(opts, s)
			}
		}
		if len(opts) == 0 {
			return Action{}, actionErr(idx, "options", "ask_user requires at least 1 option")
		}
		if len(opts) > MaxAskOptions {
			opts = opts[:MaxAskOptions]
		}
		return Action{Type: t, Question: question, Options: opts}, nil

	case ActionStop:
		return Action{Type: t, Reason: coerceString(m["reason"])}, nil
	}

	return Action{}, actionErr(idx, "type", fmt.Sprintf("unhandled type %q", t))
}

// coerceCoords pulls the x/y pixel coordinates, accepting int, float, or
// numeric string, clamping negatives to 0.
func coerceCoords(m map[string]any, idx int) (int, int, error) {
	x, ok := coerceInt(m["x"])
	if !ok {
		return 0, 0, actionErr(idx, "x", `requires numeric "x" coordinate`)
	}
	y, ok := coerceInt(m["y"])
	if !ok {
		return 0, 0, actionErr(idx, "y", `requires numeric "y" coordinate`)
	}
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	return x, y, nil
}

func coerceInt(v any) (int, bool) {
	f, ok := coerceFloat(v)
	if !ok {
		return 0, false
	}
	if f < 0 {
		return int(f - 0.5), true
	}
	return int(f + 0.5), true
}

func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func coerceString(v any) string {
	s, _ := v.(string)
	return s
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
