// Package memory accumulates per-step records of what the agent saw,
// planned, executed, and observed, and exposes bounded views of that history
// for prompt construction. The append-only step log is the source of truth;
// every bounded view is recomputed from its suffix on read.
package memory

import (
	"fmt"
	"time"

	"github.com/aiklabs/aik/internal/agent/plan"
)

// Outcome tags the final state of one control-loop step.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeFailure          Outcome = "failure"
	OutcomePartial          Outcome = "partial"
	OutcomeStopped          Outcome = "stopped"
	OutcomeVerifiedComplete Outcome = "verified_complete"
	OutcomeParseError       Outcome = "parse_error"
	OutcomeAPIError         Outcome = "api_error"
)

// Default view bounds.
const (
	DefaultMaxConversationTurns = 60
	DefaultMaxSummarySteps      = 8
	actionLogTail               = 40
)

// ActionResult records the execution of one action within a step.
type ActionResult struct {
	Action   plan.Action   `json:"action"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration_ms"`
	Error    string        `json:"error,omitempty"`
	// DedupSkipped marks actions withheld because an identical action
	// already succeeded in a recent step.
	DedupSkipped bool `json:"dedup_skipped,omitempty"`
}

// StepRecord is one complete loop iteration: what the model saw, said, and
// did. Created at iteration start, finalized once the outcome is known, and
// treated as immutable afterwards.
type StepRecord struct {
	Step      int       `json:"step"`
	StartedAt time.Time `json:"started_at"`

	WindowTitle string `json:"window_title"`
	ProcessPath string `json:"process_path,omitempty"`

	ModelResponse   string `json:"model_response,omitempty"`
	Observation     string `json:"observation,omitempty"`
	ExpectedOutcome string `json:"expected_outcome,omitempty"`

	Planned  []plan.Action  `json:"planned,omitempty"`
	Executed []ActionResult `json:"executed,omitempty"`

	Outcome      Outcome `json:"outcome,omitempty"`
	Details      string  `json:"details,omitempty"`
	FailureNote  string  `json:"failure,omitempty"`
	Verification string  `json:"verification,omitempty"`
}

// incomplete reports whether the record is still in flight. In-flight
// records never surface in summaries; they exist because the record is
// created before the model is called.
func (r *StepRecord) incomplete() bool {
	return r.ModelResponse == "" && len(r.Executed) == 0 &&
		r.Outcome == "" && r.Details == ""
}

// Turn is one conversation turn kept for multi-turn API calls.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
	Step int    `json:"step"`
}

// StepSummary is the compact per-step digest injected into prompts.
type StepSummary struct {
	Step            int      `json:"step"`
	Window          string   `json:"window"`
	ExpectedOutcome string   `json:"expected_outcome,omitempty"`
	Actions         []string `json:"actions,omitempty"`
	Outcome         Outcome  `json:"outcome,omitempty"`
	Details         string   `json:"details,omitempty"`
	Failure         string   `json:"failure,omitempty"`
	Verification    string   `json:"verification,omitempty"`
}

// SessionMemory owns the append-only step log plus the bounded conversation
// list and the never-trimmed one-line action log. It is owned by the loop
// goroutine; no internal locking.
type SessionMemory struct {
	steps        []*StepRecord
	conversation []Turn
	actionLog    []string

	maxTurns        int
	maxSummarySteps int
}

// New builds a SessionMemory with the given view bounds; zero values pick
// the defaults.
func New(maxTurns, maxSummarySteps int) *SessionMemory {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxConversationTurns
	}
	if maxSummarySteps <= 0 {
		maxSummarySteps = DefaultMaxSummarySteps
	}
	return &SessionMemory{
		maxTurns:        maxTurns,
		maxSummarySteps: maxSummarySteps,
	}
}

// StepCount returns the length of the append-only log.
func (m *SessionMemory) StepCount() int {
	return len(m.steps)
}

// Steps returns a copy of the full log for session persistence and the
// final trail.
func (m *SessionMemory) Steps() []*StepRecord {
	out := make([]*StepRecord, len(m.steps))
	copy(out, m.steps)
	return out
}

// BeginStep appends a new in-flight record and returns it as the handle the
// loop mutates until finalization.
func (m *SessionMemory) BeginStep(step int, windowTitle, processPath string) *StepRecord {
	rec := &StepRecord{
		Step:        step,
		StartedAt:   time.Now(),
		WindowTitle: windowTitle,
		ProcessPath: processPath,
	}
	m.steps = append(m.steps, rec)
	return rec
}

// RecordResponse saves the model's raw reply for the step.
func (m *SessionMemory) RecordResponse(rec *StepRecord, text string) {
	rec.ModelResponse = text
}

// RecordPlan saves the validated plan and its metadata.
func (m *SessionMemory) RecordPlan(rec *StepRecord, p *plan.Plan) {
	rec.Planned = append([]plan.Action(nil), p.Actions...)
	rec.Observation = p.Meta.Observation
	rec.ExpectedOutcome = p.Meta.ExpectedOutcome
}

// RecordExecution saves the per-action results and appends each to the
// persistent action log.
func (m *SessionMemory) RecordExecution(rec *StepRecord, results []ActionResult) {
	rec.Executed = append([]ActionResult(nil), results...)
	for _, r := range results {
		m.actionLog = append(m.actionLog, summarizeResult(rec.Step, r))
	}
}

// RecordOutcome finalizes the step.
func (m *SessionMemory) RecordOutcome(rec *StepRecord, outcome Outcome, details string) {
	rec.Outcome = outcome
	rec.Details = details
}

// RecordFailure attaches a failure-detector note to the step.
func (m *SessionMemory) RecordFailure(rec *StepRecord, note string) {
	rec.FailureNote = note
}

// RecordVerification attaches the verifier's judgment to the step.
func (m *SessionMemory) RecordVerification(rec *StepRecord, result string) {
	rec.Verification = result
}

// AddTurn appends a conversation turn, evicting the oldest turns FIFO once
// the cap is exceeded.
func (m *SessionMemory) AddTurn(role, text string, step int) {
	m.conversation = append(m.conversation, Turn{Role: role, Text: text, Step: step})
	if len(m.conversation) > m.maxTurns {
		m.conversation = m.conversation[len(m.conversation)-m.maxTurns:]
	}
}

// ConversationTurns returns the bounded multi-turn history, oldest first.
func (m *SessionMemory) ConversationTurns() []Turn {
	start := 0
	if len(m.conversation) > m.maxTurns {
		start = len(m.conversation) - m.maxTurns
	}
	out := make([]Turn, len(m.conversation)-start)
	copy(out, m.conversation[start:])
	return out
}

// RecentSummaries digests the most recent completed steps, bounded by the
// summary window.
func (m *SessionMemory) RecentSummaries() []StepSummary {
	complete := make([]*StepRecord, 0, len(m.steps))
	for _, rec := range m.steps {
		if !rec.incomplete() {
			complete = append(complete, rec)
		}
	}
	if len(complete) > m.maxSummarySteps {
		complete = complete[len(complete)-m.maxSummarySteps:]
	}

	out := make([]StepSummary, 0, len(complete))
	for _, rec := range complete {
		s := StepSummary{
			Step:            rec.Step,
			Window:          rec.WindowTitle,
			ExpectedOutcome: truncate(rec.ExpectedOutcome, 220),
			Outcome:         rec.Outcome,
			Details:         rec.Details,
			Failure:         rec.FailureNote,
			Verification:    rec.Verification,
		}
		for _, r := range rec.Executed {
			s.Actions = append(s.Actions, compactResult(r))
		}
		out = append(out, s)
	}
	return out
}

// CompletedActionsSummary builds the anti-amnesia recap: one line per
// completed step telling the model exactly what has already been done.
func (m *SessionMemory) CompletedActionsSummary() string {
	if len(m.steps) == 0 {
		return "No actions taken yet."
	}
	var out string
	for _, rec := range m.steps {
		if rec.incomplete() {
			continue
		}
		actions := "no actions"
		if len(rec.Executed) > 0 {
			actions = ""
			for i, r := range rec.Executed {
				if i > 0 {
					actions += ", "
				}
				actions += compactResult(r)
			}
		}
		outcome := string(rec.Outcome)
		if outcome == "" {
			outcome = "unknown"
		}
		if rec.Details != "" {
			outcome += " (" + rec.Details + ")"
		}
		if out != "" {
			out += "\n"
		}
		out += fmt.Sprintf("Step %d [%s]: %s -> %s", rec.Step, rec.WindowTitle, actions, outcome)
	}
	if out == "" {
		return "No actions taken yet."
	}
	return out
}

// MilestoneSummary lists the successful steps only, for high-level progress
// reporting.
func (m *SessionMemory) MilestoneSummary() []string {
	var milestones []string
	for _, rec := range m.steps {
		if rec.incomplete() {
			continue
		}
		if rec.Outcome != OutcomeSuccess && rec.Outcome != OutcomeVerifiedComplete {
			continue
		}
		actions := ""
		for i, r := range rec.Executed {
			if i > 0 {
				actions += ", "
			}
			actions += compactResult(r)
		}
		milestones = append(milestones, fmt.Sprintf("Step %d: %s", rec.Step, actions))
	}
	return milestones
}

// ActionLogTail returns the most recent one-line action summaries. The
// underlying log is never trimmed; only the surfaced tail is bounded.
func (m *SessionMemory) ActionLogTail() []string {
	start := 0
	if len(m.actionLog) > actionLogTail {
		start = len(m.actionLog) - actionLogTail
	}
	out := make([]string, len(m.actionLog)-start)
	copy(out, m.actionLog[start:])
	return out
}

// FindRecentDuplicate reports the step number where an action with the same
// signature already succeeded within the last lastN steps. wait_ms and stop
// are exempt: repeating them is always legitimate.
func (m *SessionMemory) FindRecentDuplicate(a plan.Action, lastN int) (int, bool) {
	if a.Type == plan.ActionWaitMs || a.Type == plan.ActionStop {
		return 0, false
	}
	if lastN < 1 {
		lastN = 1
	}
	sig := a.Signature()

	start := len(m.steps) - lastN
	if start < 0 {
		start = 0
	}
	for i := len(m.steps) - 1; i >= start; i-- {
		rec := m.steps[i]
		for j := len(rec.Executed) - 1; j >= 0; j-- {
			r := rec.Executed[j]
			if r.Success && !r.DedupSkipped && r.Action.Signature() == sig {
				return rec.Step, true
			}
		}
	}
	return 0, false
}

// summarizeResult renders the persistent one-line action log entry.
func summarizeResult(step int, r ActionResult) string {
	mark := "ok"
	switch {
	case r.DedupSkipped:
		mark = "skipped"
	case !r.Success:
		mark = "FAILED"
	}
	return fmt.Sprintf("Step %d: [%s] %s", step, mark, r.Action.Summary())
}

// compactResult renders an executed action for step summaries.
func compactResult(r ActionResult) string {
	s := r.Action.Summary()
	if r.DedupSkipped {
		return s + " (dedup_skipped)"
	}
	if !r.Success {
		if r.Error != "" {
			return s + " (failed: " + r.Error + ")"
		}
		return s + " (failed)"
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
