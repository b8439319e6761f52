package runner

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aiklabs/aik/internal/agent/ai"
	"github.com/aiklabs/aik/internal/agent/desktop"
	"github.com/aiklabs/aik/internal/agent/killswitch"
	"github.com/aiklabs/aik/internal/agent/memory"
	"github.com/aiklabs/aik/internal/agent/plan"
	"github.com/aiklabs/aik/internal/agent/verify"
)

// fakeCapturer serves scripted frame bytes. Identical bytes read as an
// unchanged screen; distinct non-PNG bytes read as changed (similarity 0).
// With no script it serves a unique frame per call.
type fakeCapturer struct {
	frames [][]byte
	n      int
}

func (c *fakeCapturer) Capture() (*desktop.Frame, error) {
	var png []byte
	if len(c.frames) == 0 {
		png = []byte(fmt.Sprintf("unique-frame-%d", c.n))
	} else {
		idx := c.n
		if idx >= len(c.frames) {
			idx = len(c.frames) - 1
		}
		png = c.frames[idx]
	}
	c.n++
	return &desktop.Frame{PNG: png, Width: 1280, Height: 720}, nil
}

type fakeWindower struct {
	windows []desktop.Window
	n       int
}

func (w *fakeWindower) Foreground() (desktop.Window, error) {
	if len(w.windows) == 0 {
		return desktop.Window{Title: "Untitled - Notepad", ProcessPath: `C:\Windows\notepad.exe`}, nil
	}
	idx := w.n
	if idx >= len(w.windows) {
		idx = len(w.windows) - 1
	}
	w.n++
	return w.windows[idx], nil
}

type fakeInjector struct {
	executed  []plan.Action
	dismissed int
	neutral   int
	switched  int
	failOn    func(a plan.Action) error
}

func (f *fakeInjector) Execute(_ context.Context, a plan.Action) error {
	if f.failOn != nil {
		if err := f.failOn(a); err != nil {
			return err
		}
	}
	f.executed = append(f.executed, a)
	return nil
}

func (f *fakeInjector) Dismiss(context.Context) error      { f.dismissed++; return nil }
func (f *fakeInjector) NeutralClick(context.Context) error { f.neutral++; return nil }
func (f *fakeInjector) SwitchWindow(context.Context) error { f.switched++; return nil }

type fakeModel struct {
	responses []string
	calls     int
	requests  []*ai.ChatRequest
}

func (m *fakeModel) Complete(_ context.Context, req *ai.ChatRequest) (*ai.ChatResponse, error) {
	m.requests = append(m.requests, req)
	if m.calls >= len(m.responses) {
		return nil, fmt.Errorf("model script exhausted after %d calls", m.calls)
	}
	text := m.responses[m.calls]
	m.calls++
	return &ai.ChatResponse{Text: text}, nil
}

func newTestRunner(cfg Config, model *fakeModel, capt *fakeCapturer, opts ...Option) (*Runner, *fakeInjector) {
	inj := &fakeInjector{}
	r := New(cfg, model, capt, &fakeWindower{}, inj, killswitch.New(), opts...)
	r.sleep = func(context.Context, time.Duration) {}
	return r, inj
}

func TestNotepadEndToEnd(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"meta":{"observation":"desktop visible","progress":"opening notepad"},
		  "actions":[{"type":"hotkey","keys":["win","r"]},
		             {"type":"type_text","text":"notepad"},
		             {"type":"key_press","key":"enter"}]}`,
		`{"meta":{"observation":"Notepad is open"},
		  "actions":[{"type":"type_text","text":"Hello"}]}`,
		`{"actions":[{"type":"stop","reason":"typed Hello into Notepad"}]}`,
	}}

	r, inj := newTestRunner(Config{Goal: "open Notepad and type Hello", MaxSteps: 10}, model, &fakeCapturer{})
	trail, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, ReasonStopped, trail.Reason)
	require.Equal(t, 3, trail.Steps)
	require.Equal(t, 4, trail.ActionsExecuted)
	require.Equal(t, 0, trail.Failures)
	require.Len(t, inj.executed, 4)

	require.Equal(t, 3, r.Memory().StepCount())
	steps := r.Memory().Steps()
	require.Equal(t, memory.OutcomeStopped, steps[2].Outcome)
	require.Equal(t, "typed Hello into Notepad", steps[2].Details)
}

func TestDedupSkipsRepeatedHotkey(t *testing.T) {
	savePlan := `{"actions":[{"type":"hotkey","keys":["ctrl","s"]}]}`
	model := &fakeModel{responses: []string{
		savePlan,
		savePlan,
		`{"actions":[{"type":"stop","reason":"saved"}]}`,
	}}

	r, inj := newTestRunner(Config{Goal: "edit the document", MaxSteps: 5}, model, &fakeCapturer{})
	trail, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReasonStopped, trail.Reason)

	// The hotkey reached the injector exactly once.
	require.Len(t, inj.executed, 1)

	steps := r.Memory().Steps()
	require.Len(t, steps[1].Executed, 1)
	require.True(t, steps[1].Executed[0].DedupSkipped)
	require.True(t, steps[1].Executed[0].Success)
}

func TestDedupNeverSkipsTextActions(t *testing.T) {
	typePlan := `{"actions":[{"type":"type_text","text":"Hello"}]}`
	model := &fakeModel{responses: []string{
		typePlan,
		typePlan,
		`{"actions":[{"type":"stop","reason":"done"}]}`,
	}}

	r, inj := newTestRunner(Config{Goal: "type things", MaxSteps: 5}, model, &fakeCapturer{})
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	// Text legitimately repeats; both executions went through.
	require.Len(t, inj.executed, 2)
	for _, rec := range r.Memory().Steps() {
		for _, res := range rec.Executed {
			require.False(t, res.DedupSkipped)
		}
	}
}

func TestBacktrackLadderIncrementsAndResets(t *testing.T) {
	frozen := []byte("frozen-frame")
	capt := &fakeCapturer{frames: [][]byte{
		frozen, frozen, // first is always "changed"; second freezes
		frozen, frozen, frozen, // three stuck iterations
		[]byte("frame-2"), // progress again
	}}
	model := &fakeModel{responses: []string{
		`{"actions":[{"type":"mouse_click","x":10,"y":10}]}`,
		`{"actions":[{"type":"key_press","key":"enter"}]}`,
		`{"actions":[{"type":"stop","reason":"done"}]}`,
	}}

	r, inj := newTestRunner(Config{Goal: "click the button", MaxSteps: 20}, model, capt)
	ctx := context.Background()

	step := func(expectReason ExitReason) {
		r.step++
		reason, err := r.iterate(ctx)
		require.NoError(t, err)
		require.Equal(t, expectReason, reason)
	}

	step("") // first frame: no previous to compare, executes click
	require.Equal(t, 0, r.backtrackLevel)

	step("") // frozen: stale=1, model turn still happens
	require.Equal(t, 1, r.staleCount)
	require.Equal(t, 0, r.backtrackLevel)

	step("") // frozen: stale=2 -> ladder L1
	require.Equal(t, 1, r.backtrackLevel)
	require.Equal(t, 1, inj.dismissed)

	step("") // frozen: stale=3 -> ladder L2
	require.Equal(t, 2, r.backtrackLevel)
	require.Equal(t, 1, inj.neutral)
	require.Equal(t, 2, inj.dismissed)

	step("") // frozen: stale=4 -> ladder L3 (advisory only, resets stale)
	require.Equal(t, 3, r.backtrackLevel)
	require.Equal(t, 0, r.staleCount)

	step(ReasonStopped) // frame-2: screen changed, ladder resets, stop plan
	require.Equal(t, 0, r.backtrackLevel)
	require.Equal(t, 0, r.staleCount)
}

func TestPlanRepetitionWithFrozenScreenForcesBacktrack(t *testing.T) {
	capt := &fakeCapturer{frames: [][]byte{[]byte("frozen")}}
	clickPlan := `{"actions":[{"type":"mouse_click","x":42,"y":42}]}`
	model := &fakeModel{responses: []string{clickPlan, clickPlan}}

	r, inj := newTestRunner(Config{Goal: "click the button", MaxSteps: 20}, model, capt)
	ctx := context.Background()

	r.step++
	_, err := r.iterate(ctx) // executes the click
	require.NoError(t, err)

	r.step++
	_, err = r.iterate(ctx) // same plan, frozen screen -> forced stale
	require.NoError(t, err)
	require.Equal(t, staleThreshold, r.staleCount)

	steps := r.Memory().Steps()
	require.Equal(t, memory.OutcomeFailure, steps[1].Outcome)
	require.Empty(t, steps[1].Executed)

	r.step++
	_, err = r.iterate(ctx) // ladder fires without another model call
	require.NoError(t, err)
	require.Equal(t, 1, r.backtrackLevel)
	require.Equal(t, 1, inj.dismissed)
	require.Equal(t, 2, model.calls)
}

func TestParseFailureExhaustion(t *testing.T) {
	// Every decision and its repair round-trip return garbage.
	garbage := make([]string, 6)
	for i := range garbage {
		garbage[i] = "I cannot produce JSON right now."
	}
	model := &fakeModel{responses: garbage}

	r, _ := newTestRunner(Config{Goal: "do anything", MaxSteps: 10}, model, &fakeCapturer{})
	trail, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, ReasonParseFailures, trail.Reason)
	require.Equal(t, 3, trail.Steps)
	require.Equal(t, 6, model.calls) // one repair per decision

	for _, rec := range r.Memory().Steps() {
		require.Equal(t, memory.OutcomeParseError, rec.Outcome)
	}
}

func TestRepairRoundTripRecovers(t *testing.T) {
	model := &fakeModel{responses: []string{
		"Sure, here you go: definitely not json",
		`{"actions":[{"type":"stop","reason":"done"}]}`,
	}}

	r, _ := newTestRunner(Config{Goal: "do anything", MaxSteps: 5}, model, &fakeCapturer{})
	trail, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, ReasonStopped, trail.Reason)
	require.Equal(t, 2, model.calls)
	// The repair request carries the invalid text back to the model.
	last := model.requests[1].Messages
	require.Contains(t, last[len(last)-1].Blocks[0].Text, "INVALID")
}

func TestVerifyRejectionsExhaustBudget(t *testing.T) {
	stop := `{"actions":[{"type":"stop","reason":"saved the file"}]}`
	model := &fakeModel{responses: []string{stop, stop, stop}}
	judge := &fakeModel{responses: []string{
		`{"goal_achieved":false,"confidence":0.9,"missing":"no save confirmation visible"}`,
		`{"goal_achieved":false,"confidence":0.9,"missing":"no save confirmation visible"}`,
		`{"goal_achieved":false,"confidence":0.9,"missing":"no save confirmation visible"}`,
	}}

	cfg := Config{Goal: "type Hello and save the document", MaxSteps: 10, VerifyStops: true}
	r, _ := newTestRunner(cfg, model, &fakeCapturer{}, WithVerifier(verify.New(judge, 0)))
	trail, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, ReasonVerifyRejections, trail.Reason)
	require.Equal(t, verify.MaxStopRejections, judge.calls)

	steps := r.Memory().Steps()
	require.Equal(t, memory.OutcomeFailure, steps[0].Outcome)
	require.Contains(t, steps[0].Verification, "no save confirmation")
}

func TestVerifiedStopTerminatesGoalVerified(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"actions":[{"type":"stop","reason":"document saved"}]}`,
	}}
	judge := &fakeModel{responses: []string{
		`{"goal_achieved":true,"confidence":0.95,"evidence":"title bar shows saved document"}`,
	}}

	cfg := Config{Goal: "type Hello and save the document", MaxSteps: 10, VerifyStops: true}
	r, _ := newTestRunner(cfg, model, &fakeCapturer{}, WithVerifier(verify.New(judge, 0)))
	trail, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, ReasonGoalVerified, trail.Reason)
	steps := r.Memory().Steps()
	require.Equal(t, memory.OutcomeVerifiedComplete, steps[0].Outcome)
}

func TestUnverifiedGoalStopsWithoutJudge(t *testing.T) {
	// Goal has no evidence keyword, so the stop is accepted as-is even
	// with verification enabled.
	model := &fakeModel{responses: []string{
		`{"actions":[{"type":"stop","reason":"looks idle"}]}`,
	}}
	judge := &fakeModel{}

	cfg := Config{Goal: "wait until the screen is idle", MaxSteps: 5, VerifyStops: true}
	r, _ := newTestRunner(cfg, model, &fakeCapturer{}, WithVerifier(verify.New(judge, 0)))
	trail, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, ReasonStopped, trail.Reason)
	require.Equal(t, 0, judge.calls)
}

func TestKillSwitchStopsBeforeFirstDecision(t *testing.T) {
	model := &fakeModel{}
	r, _ := newTestRunner(Config{Goal: "anything", MaxSteps: 5}, model, &fakeCapturer{})
	r.kill.Trigger()

	trail, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReasonKillSwitch, trail.Reason)
	require.Equal(t, 0, model.calls)
}

func TestKillSwitchInterruptsMidPlan(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"actions":[{"type":"key_press","key":"a"},{"type":"key_press","key":"b"}]}`,
	}}
	r, inj := newTestRunner(Config{Goal: "anything", MaxSteps: 5}, model, &fakeCapturer{})
	inj.failOn = func(a plan.Action) error {
		r.kill.Trigger() // fires while the first action runs
		return nil
	}

	trail, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReasonKillSwitch, trail.Reason)
	require.Len(t, inj.executed, 1)
}

func TestOpenWithDialogDismissed(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"actions":[{"type":"stop","reason":"done"}]}`,
	}}
	inj := &fakeInjector{}
	win := &fakeWindower{windows: []desktop.Window{
		{Title: "How do you want to open this file?", ProcessPath: `C:\Windows\System32\OpenWith.exe`},
		{Title: "Untitled - Notepad", ProcessPath: `C:\Windows\notepad.exe`},
	}}
	r := New(Config{Goal: "anything", MaxSteps: 5}, model, &fakeCapturer{}, win, inj, killswitch.New())
	r.sleep = func(context.Context, time.Duration) {}

	trail, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReasonStopped, trail.Reason)
	require.Equal(t, 1, inj.dismissed)
	require.Equal(t, 1, model.calls) // no decision while the dialog was up
}

func TestUACSecureDesktopWaits(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"actions":[{"type":"stop","reason":"done"}]}`,
	}}
	inj := &fakeInjector{}
	win := &fakeWindower{windows: []desktop.Window{
		{Title: "User Account Control", ProcessPath: `C:\Windows\System32\consent.exe`},
		{Title: "Untitled - Notepad", ProcessPath: `C:\Windows\notepad.exe`},
	}}
	r := New(Config{Goal: "anything", MaxSteps: 5}, model, &fakeCapturer{}, win, inj, killswitch.New())
	r.sleep = func(context.Context, time.Duration) {}

	trail, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReasonStopped, trail.Reason)
	require.Equal(t, 0, inj.dismissed) // UAC is waited out, never poked
	require.Equal(t, 1, model.calls)
}

func TestAskUserFeedsAnswerIntoNextPrompt(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"actions":[{"type":"ask_user","question":"Which file?","options":["report.txt","notes.txt"]}]}`,
		`{"actions":[{"type":"stop","reason":"done"}]}`,
	}}
	asked := false
	r, _ := newTestRunner(Config{Goal: "open a file", MaxSteps: 5}, model, &fakeCapturer{},
		WithAskUser(func(q string, opts []string) (string, error) {
			asked = true
			require.Equal(t, "Which file?", q)
			require.Len(t, opts, 2)
			return "notes.txt", nil
		}))

	trail, err := r.Run(context.Background())
	require.NoError(t, err)
	require.True(t, asked)
	require.Equal(t, ReasonStopped, trail.Reason)

	// The answer shows up in the next decision's context.
	last := model.requests[1].Messages
	var text string
	for _, b := range last[len(last)-1].Blocks {
		text += b.Text
	}
	require.Contains(t, text, "notes.txt")
}

func TestMaxStepsExhaustion(t *testing.T) {
	// The model never stops; three distinct plans cycle so neither dedup
	// nor repetition detection short-circuits the run.
	plans := []string{
		`{"actions":[{"type":"type_text","text":"a"}]}`,
		`{"actions":[{"type":"key_press","key":"tab"}]}`,
		`{"actions":[{"type":"wait_ms","ms":1}]}`,
	}
	var responses []string
	for i := 0; i < 4; i++ {
		responses = append(responses, plans...)
	}
	model := &fakeModel{responses: responses}

	r, _ := newTestRunner(Config{Goal: "never finishes", MaxSteps: 4}, model, &fakeCapturer{})
	trail, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReasonMaxSteps, trail.Reason)
	require.Equal(t, 4, trail.Steps)
	require.Equal(t, 4, r.Memory().StepCount())
}

func TestExecutionFailureAbortsRemainingActions(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"actions":[{"type":"key_press","key":"enter"},{"type":"type_text","text":"after"}]}`,
		`{"actions":[{"type":"stop","reason":"done"}]}`,
	}}
	r, inj := newTestRunner(Config{Goal: "anything", MaxSteps: 5}, model, &fakeCapturer{})
	inj.failOn = func(a plan.Action) error {
		if a.Type == plan.ActionKeyPress {
			return fmt.Errorf("injection blocked")
		}
		return nil
	}

	trail, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReasonStopped, trail.Reason)
	require.Equal(t, 1, trail.Failures)
	require.Empty(t, inj.executed) // the follow-up action never ran

	steps := r.Memory().Steps()
	require.Equal(t, memory.OutcomeFailure, steps[0].Outcome)
	require.Contains(t, steps[0].Details, "injection blocked")
}

func TestDryRunNeverTouchesInjector(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"actions":[{"type":"mouse_click","x":5,"y":5},{"type":"type_text","text":"hi"}]}`,
		`{"actions":[{"type":"stop","reason":"done"}]}`,
	}}
	r, inj := newTestRunner(Config{Goal: "anything", MaxSteps: 5, DryRun: true}, model, &fakeCapturer{})
	trail, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, ReasonStopped, trail.Reason)
	require.Empty(t, inj.executed)
	require.Equal(t, 2, trail.ActionsExecuted) // counted, just not injected
}

func TestUserPromptCarriesContext(t *testing.T) {
	text := buildUserPrompt(promptContext{
		Goal:             "open Notepad and type Hello",
		WindowTitle:      "Program Manager",
		Step:             3,
		ScreenshotWidth:  1280,
		ScreenshotHeight: 720,
		RecentActions:    []string{"Step 1: hotkey win+r -> [ok]"},
		CompletedSummary: "Step 1 [Program Manager]: hotkey win+r -> success",
		Checklist:        "[ ] open application",
		HumanNotes:       []string{"USER HINT: use the Run dialog"},
		ScreenChanged:    false,
	})

	require.Contains(t, text, "open Notepad and type Hello")
	require.Contains(t, text, "1280x720")
	require.Contains(t, text, "USER HINT: use the Run dialog")
	require.Contains(t, text, "WARNING")
	require.Contains(t, text, "completed_actions_history")
}

func TestUserPromptBoundsNoteTails(t *testing.T) {
	notes := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		notes = append(notes, fmt.Sprintf("note-%d", i))
	}
	text := buildUserPrompt(promptContext{
		Goal:          "anything",
		Step:          1,
		HumanNotes:    notes,
		ScreenChanged: true,
	})
	require.NotContains(t, text, "note-3")
	require.Contains(t, text, "note-4")
	require.Contains(t, text, "note-9")
	require.False(t, strings.Contains(text, "WARNING"))
}
