// Package verify gates claimed completion. When the model proposes stop and
// the goal semantically requires evidence, the verifier re-observes the
// screen and asks the model for a strict-JSON judgment before accepting.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aiklabs/aik/internal/agent/ai"
	"github.com/aiklabs/aik/internal/agent/desktop"
	"github.com/aiklabs/aik/internal/devlog"
)

const (
	// DefaultConfidenceThreshold is the minimum verifier confidence to
	// accept a stop.
	DefaultConfidenceThreshold = 0.6

	// MaxStopRejections bounds how many claimed completions may be
	// rejected before the loop hard-stops.
	MaxStopRejections = 3

	verifyMaxTokens = 300
)

const systemPrompt = `You are a strict verifier for a desktop automation goal.

You will be given:
- The original user goal (text)
- The current active window title + process path (may be empty)
- A screenshot of the user's screen

Decide whether the goal is actually achieved in the screenshot.

Return ONLY valid JSON (no markdown, no code fences, no extra text) with this schema:
{
  "goal_achieved": true|false,
  "confidence": 0.0-1.0,
  "evidence": "what you see that supports the decision",
  "missing": "what is missing / what would need to be visible to say it's achieved"
}

Rules:
- Be conservative. If you are not sure from the screenshot, set goal_achieved=false with low confidence.
- Do not assume actions succeeded unless the UI clearly shows the result.`

// evidenceKeywords mark goals whose completion claims need independent
// confirmation. Goals without them accept an unverified stop.
var evidenceKeywords = []string{
	"verify", "confirm", "make sure", "ensure", "check that",
	"send", "sent", "save", "saved", "create", "delete", "upload",
	"submit", "exists", "open", "show",
}

// Result is the verifier's judgment of one claimed completion.
type Result struct {
	Achieved   bool    `json:"goal_achieved"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence,omitempty"`
	Missing    string  `json:"missing,omitempty"`
	// Reason summarizes the judgment for step records and logs.
	Reason string `json:"reason,omitempty"`
}

// Completer is the slice of the API client the verifier needs.
type Completer interface {
	Complete(ctx context.Context, req *ai.ChatRequest) (*ai.ChatResponse, error)
}

// Verifier re-observes and judges claimed completions.
type Verifier struct {
	client    Completer
	threshold float64
}

// New builds a Verifier. threshold <= 0 picks the default.
func New(client Completer, threshold float64) *Verifier {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &Verifier{client: client, threshold: threshold}
}

// GoalRequiresEvidence reports whether a stop for this goal must be verified
// before it is accepted.
func GoalRequiresEvidence(goal string) bool {
	g := strings.ToLower(goal)
	for _, kw := range evidenceKeywords {
		if strings.Contains(g, kw) {
			return true
		}
	}
	return false
}

// Verify sends the goal, window identity, and a fresh screenshot to the
// model and parses its judgment. API and parse failures are conservative:
// not verified, zero confidence, error in Reason.
func (v *Verifier) Verify(ctx context.Context, goal string, frame *desktop.Frame, win desktop.Window, step int) *Result {
	payload := map[string]any{
		"original_goal":       goal,
		"active_window_title": win.Title,
		"active_process_path": win.ProcessPath,
		"step":                step,
	}
	ctxJSON, _ := json.Marshal(payload)
	userText := "Verify whether the goal has been achieved.\nContext:\n" + string(ctxJSON)

	req := &ai.ChatRequest{
		System:    systemPrompt,
		Messages:  []ai.Message{ai.VisionMessage(frame.PNG, userText)},
		MaxTokens: verifyMaxTokens,
	}

	resp, err := v.client.Complete(ctx, req)
	if err != nil {
		devlog.Printf("[Verifier] API call failed: %v", err)
		return &Result{Reason: fmt.Sprintf("verification_error: %v", err)}
	}

	res, err := parseJudgment(resp.Text)
	if err != nil {
		devlog.Printf("[Verifier] unparseable judgment: %v", err)
		return &Result{Reason: fmt.Sprintf("verification_parse_error: %v", err)}
	}

	if res.Achieved {
		res.Reason = res.Evidence
	} else if res.Missing != "" {
		res.Reason = res.Missing
	} else if res.Evidence != "" {
		res.Reason = res.Evidence
	} else {
		res.Reason = "goal not achieved"
	}
	return res
}

// Accept reports whether the judgment clears the confidence bar.
func (v *Verifier) Accept(res *Result) bool {
	return res != nil && res.Achieved && res.Confidence >= v.threshold
}

// parseJudgment extracts the strict-JSON verdict, tolerating fences and
// surrounding chatter the same way the plan validator does.
func parseJudgment(text string) (*Result, error) {
	s := stripFences(strings.TrimSpace(text))
	if s == "" {
		return nil, fmt.Errorf("empty model response")
	}

	var raw struct {
		GoalAchieved bool        `json:"goal_achieved"`
		Confidence   json.Number `json:"confidence"`
		Evidence     string      `json:"evidence"`
		Missing      string      `json:"missing"`
	}

	try := func(body string) bool {
		dec := json.NewDecoder(strings.NewReader(body))
		return dec.Decode(&raw) == nil
	}

	if !try(s) {
		start := strings.Index(s, "{")
		end := strings.LastIndex(s, "}")
		if start < 0 || end <= start || !try(s[start:end+1]) {
			return nil, fmt.Errorf("could not find a JSON object in the model response")
		}
	}

	conf, _ := raw.Confidence.Float64()
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return &Result{
		Achieved:   raw.GoalAchieved,
		Confidence: conf,
		Evidence:   strings.TrimSpace(raw.Evidence),
		Missing:    strings.TrimSpace(raw.Missing),
	}, nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
