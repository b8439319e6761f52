package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiklabs/aik/internal/agent/plan"
)

func completedStep(m *SessionMemory, n int, window string, outcome Outcome, actions ...plan.Action) *StepRecord {
	rec := m.BeginStep(n, window, "")
	m.RecordResponse(rec, fmt.Sprintf(`{"actions":[]} step %d`, n))
	results := make([]ActionResult, 0, len(actions))
	for _, a := range actions {
		results = append(results, ActionResult{Action: a, Success: true, Duration: 5 * time.Millisecond})
	}
	m.RecordExecution(rec, results)
	m.RecordOutcome(rec, outcome, "")
	return rec
}

func TestBoundedViewsNeverExceedCaps(t *testing.T) {
	m := New(10, 4)

	for i := 1; i <= 50; i++ {
		completedStep(m, i, "Notepad", OutcomeSuccess,
			plan.Action{Type: plan.ActionKeyPress, Key: fmt.Sprintf("f%d", i)})
		m.AddTurn("user", fmt.Sprintf("context %d", i), i)
		m.AddTurn("assistant", fmt.Sprintf("plan %d", i), i)
	}

	// The log grows by exactly one per step; the views stay capped.
	require.Equal(t, 50, m.StepCount())
	assert.Len(t, m.RecentSummaries(), 4)
	assert.Len(t, m.ConversationTurns(), 10)
	assert.Len(t, m.ActionLogTail(), 40)

	// Views are suffixes of the log, newest last.
	summaries := m.RecentSummaries()
	assert.Equal(t, 47, summaries[0].Step)
	assert.Equal(t, 50, summaries[3].Step)

	turns := m.ConversationTurns()
	assert.Equal(t, "plan 50", turns[9].Text)
}

func TestIncompleteStepsExcludedFromViews(t *testing.T) {
	m := New(0, 0)
	completedStep(m, 1, "Notepad", OutcomeSuccess,
		plan.Action{Type: plan.ActionTypeText, Text: "Hello"})

	// In-flight record: created, but no response or outcome yet.
	m.BeginStep(2, "Notepad", "")

	summaries := m.RecentSummaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].Step)

	text := m.CompletedActionsSummary()
	assert.Contains(t, text, "Step 1")
	assert.NotContains(t, text, "Step 2")
}

func TestCompletedActionsSummaryFormat(t *testing.T) {
	m := New(0, 0)

	rec := m.BeginStep(3, "Document.xlsx - Excel", "")
	m.RecordResponse(rec, "...")
	m.RecordExecution(rec, []ActionResult{
		{Action: plan.Action{Type: plan.ActionHotkey, Keys: []string{"ctrl", "s"}}, Success: true},
	})
	m.RecordOutcome(rec, OutcomeSuccess, "save dialog appeared")

	text := m.CompletedActionsSummary()
	assert.Equal(t, "Step 3 [Document.xlsx - Excel]: hotkey ctrl+s -> success (save dialog appeared)", text)

	empty := New(0, 0)
	assert.Equal(t, "No actions taken yet.", empty.CompletedActionsSummary())
}

func TestMilestoneSummaryOnlySuccesses(t *testing.T) {
	m := New(0, 0)
	completedStep(m, 1, "a", OutcomeSuccess, plan.Action{Type: plan.ActionKeyPress, Key: "enter"})
	completedStep(m, 2, "b", OutcomeFailure, plan.Action{Type: plan.ActionKeyPress, Key: "esc"})
	completedStep(m, 3, "c", OutcomeVerifiedComplete, plan.Action{Type: plan.ActionStop, Reason: "done"})

	milestones := m.MilestoneSummary()
	require.Len(t, milestones, 2)
	assert.Contains(t, milestones[0], "Step 1")
	assert.Contains(t, milestones[1], "Step 3")
}

func TestFindRecentDuplicate(t *testing.T) {
	m := New(0, 0)
	save := plan.Action{Type: plan.ActionHotkey, Keys: []string{"ctrl", "s"}}
	completedStep(m, 1, "Excel", OutcomeSuccess, save)

	// Same signature, different key order.
	again := plan.Action{Type: plan.ActionHotkey, Keys: []string{"s", "ctrl"}}
	step, found := m.FindRecentDuplicate(again, 3)
	require.True(t, found)
	assert.Equal(t, 1, step)

	// wait_ms and stop are exempt.
	completedStep(m, 2, "Excel", OutcomeSuccess, plan.Action{Type: plan.ActionWaitMs, Ms: 500})
	_, found = m.FindRecentDuplicate(plan.Action{Type: plan.ActionWaitMs, Ms: 500}, 3)
	assert.False(t, found)
	_, found = m.FindRecentDuplicate(plan.Action{Type: plan.ActionStop}, 3)
	assert.False(t, found)
}

func TestFindRecentDuplicate_OutsideWindow(t *testing.T) {
	m := New(0, 0)
	save := plan.Action{Type: plan.ActionHotkey, Keys: []string{"ctrl", "s"}}
	completedStep(m, 1, "Excel", OutcomeSuccess, save)
	for i := 2; i <= 5; i++ {
		completedStep(m, i, "Excel", OutcomeSuccess, plan.Action{Type: plan.ActionKeyPress, Key: "tab"})
	}

	_, found := m.FindRecentDuplicate(save, 3)
	assert.False(t, found, "a success older than the window must not count as a duplicate")
}

func TestFindRecentDuplicate_IgnoresFailedAndSkipped(t *testing.T) {
	m := New(0, 0)
	click := plan.Action{Type: plan.ActionMouseClick, X: 10, Y: 20, Button: "left", Clicks: 1}

	rec := m.BeginStep(1, "App", "")
	m.RecordResponse(rec, "...")
	m.RecordExecution(rec, []ActionResult{
		{Action: click, Success: false, Error: "injection failed"},
		{Action: click, Success: true, DedupSkipped: true},
	})
	m.RecordOutcome(rec, OutcomePartial, "")

	_, found := m.FindRecentDuplicate(click, 3)
	assert.False(t, found, "only genuinely executed successes count")
}

func TestActionLogMarksFailuresAndSkips(t *testing.T) {
	m := New(0, 0)
	rec := m.BeginStep(1, "App", "")
	m.RecordResponse(rec, "...")
	m.RecordExecution(rec, []ActionResult{
		{Action: plan.Action{Type: plan.ActionKeyPress, Key: "enter"}, Success: true},
		{Action: plan.Action{Type: plan.ActionKeyPress, Key: "f5"}, Success: false, Error: "boom"},
		{Action: plan.Action{Type: plan.ActionHotkey, Keys: []string{"ctrl", "s"}}, DedupSkipped: true},
	})
	m.RecordOutcome(rec, OutcomePartial, "")

	log := m.ActionLogTail()
	require.Len(t, log, 3)
	assert.Contains(t, log[0], "[ok]")
	assert.Contains(t, log[1], "[FAILED]")
	assert.Contains(t, log[2], "[skipped]")
}

func TestChecklistInference(t *testing.T) {
	c := NewChecklist("Create a report in Excel and email it via Gmail")
	assert.Contains(t, c.Tasks, "Open Excel")
	assert.Contains(t, c.Tasks, "Send email")

	generic := NewChecklist("do something unusual")
	require.Equal(t, []string{
		"Open required application",
		"Complete core task steps",
		"Finalize and confirm completion",
	}, generic.Tasks)
}

func TestChecklistUpdateFromStep(t *testing.T) {
	c := NewChecklist("save a spreadsheet in Excel")
	require.False(t, c.Done("Save document"))

	c.UpdateFromStep("saved the workbook", []ActionResult{
		{Action: plan.Action{Type: plan.ActionHotkey, Keys: []string{"ctrl", "s"}}, Success: true},
	})
	assert.True(t, c.Done("Save document"))

	// Completion is monotonic: unrelated updates never un-check.
	c.UpdateFromStep("something else entirely", nil)
	assert.True(t, c.Done("Save document"))
}

func TestChecklistUpdateFromModel(t *testing.T) {
	c := NewChecklist("email the report")
	c.UpdateFromModel("I have opened the browser and navigated to Gmail inbox")
	assert.True(t, c.Done("Open browser"))
	assert.True(t, c.Done("Navigate to Gmail"))
	assert.False(t, c.Done("Send email"))
}

func TestChecklistRender(t *testing.T) {
	c := NewChecklist("plain goal")
	c.UpdateFromModel("application opened")
	out := c.Render()
	assert.Contains(t, out, "[x] Open required application")
	assert.Contains(t, out, "[ ] Finalize and confirm completion")
}
