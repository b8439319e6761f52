package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aiklabs/aik/internal/agent/ai"
	"github.com/aiklabs/aik/internal/agent/desktop"
	"github.com/aiklabs/aik/internal/agent/detect"
	"github.com/aiklabs/aik/internal/agent/killswitch"
	"github.com/aiklabs/aik/internal/agent/memory"
	"github.com/aiklabs/aik/internal/agent/plan"
	"github.com/aiklabs/aik/internal/agent/session"
	"github.com/aiklabs/aik/internal/agent/status"
	"github.com/aiklabs/aik/internal/agent/verify"
	"github.com/aiklabs/aik/internal/devlog"
)

// ExitReason is why the loop stopped. Every cause is distinct in logs.
type ExitReason string

const (
	ReasonGoalVerified     ExitReason = "goal_verified"
	ReasonStopped          ExitReason = "stopped"
	ReasonKillSwitch       ExitReason = "kill_switch"
	ReasonMaxSteps         ExitReason = "max_steps"
	ReasonParseFailures    ExitReason = "parse_failures"
	ReasonVerifyRejections ExitReason = "verify_rejections"

	// ReasonAPIFailure accompanies the error Run returns when the model
	// service failed permanently. It is the only reason paired with a
	// non-nil error.
	ReasonAPIFailure ExitReason = "api_failure"
)

const (
	// MaxConsecutiveParseFailures terminates the loop once the model keeps
	// returning unparseable plans even after repair round-trips.
	MaxConsecutiveParseFailures = 3

	planSigHistory   = 5
	backtrackPause   = 600 * time.Millisecond
	secureDeskPause  = time.Second
	dialogClosePause = 600 * time.Millisecond
)

// Config holds the loop's tunables.
type Config struct {
	Goal         string
	MaxSteps     int
	LoopInterval time.Duration
	MaxTokens    int
	Temperature  float64
	DryRun       bool

	// VerifyStops gates stop acceptance behind an independent verification
	// pass when the goal demands on-screen evidence.
	VerifyStops bool
}

// Trail is the legible record the loop always leaves behind, whatever the
// exit reason.
type Trail struct {
	Reason          ExitReason
	Steps           int
	ActionsExecuted int
	Failures        int
}

// Completer is the slice of the resilient API client the loop needs.
type Completer interface {
	Complete(ctx context.Context, req *ai.ChatRequest) (*ai.ChatResponse, error)
}

// AskUserFunc surfaces an ask_user action (and the top backtrack rung) to a
// human. A nil func means no human is available.
type AskUserFunc func(question string, options []string) (string, error)

// Runner owns all loop state. It is single-threaded: one iteration fully
// completes before the next begins, so a shared desktop never sees two
// plans interleaved. The kill switch and status feed are the only things
// other goroutines touch.
type Runner struct {
	cfg      Config
	client   Completer
	capturer desktop.Capturer
	windower desktop.Windower
	injector desktop.Injector
	verifier *verify.Verifier
	store    *session.Store
	kill     *killswitch.Switch
	feed     *status.Feed
	askUser  AskUserFunc

	mem       *memory.SessionMemory
	checklist *memory.ProgressChecklist

	sessionID string
	step      int

	prevFrame *desktop.Frame
	prevWin   desktop.Window

	staleCount     int
	backtrackLevel int

	parseFailures  int
	stopRejections int
	recentPlanSigs []string
	humanNotes     []string

	actionsExecuted int
	failures        int

	sleep func(ctx context.Context, d time.Duration)
}

// Option customizes a Runner.
type Option func(*Runner)

// WithVerifier enables stop verification with the given verifier.
func WithVerifier(v *verify.Verifier) Option {
	return func(r *Runner) { r.verifier = v }
}

// WithStore persists finalized step records. A nil store is fine.
func WithStore(s *session.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithStatusFeed publishes progress events on the bounded feed.
func WithStatusFeed(f *status.Feed) Option {
	return func(r *Runner) { r.feed = f }
}

// WithAskUser wires a human prompt for ask_user actions and stuck episodes.
func WithAskUser(fn AskUserFunc) Option {
	return func(r *Runner) { r.askUser = fn }
}

// New builds a Runner around the collaborators.
func New(cfg Config, client Completer, capturer desktop.Capturer, windower desktop.Windower, injector desktop.Injector, kill *killswitch.Switch, opts ...Option) *Runner {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 60
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if kill == nil {
		kill = killswitch.New()
	}
	r := &Runner{
		cfg:       cfg,
		client:    client,
		capturer:  capturer,
		windower:  windower,
		injector:  injector,
		kill:      kill,
		mem:       memory.New(0, 0),
		checklist: memory.NewChecklist(cfg.Goal),
		sessionID: session.NewSessionID(),
		sleep:     sleepCtx,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SessionID returns the sortable identifier this run persists under.
func (r *Runner) SessionID() string { return r.sessionID }

// Memory exposes the session memory, chiefly for tests and the CLI recap.
func (r *Runner) Memory() *memory.SessionMemory { return r.mem }

// Run drives the loop to one of the six exit reasons. The returned Trail is
// never nil; the error is non-nil only when the upstream service failed
// permanently.
func (r *Runner) Run(ctx context.Context) (*Trail, error) {
	devlog.Printf("[Runner] session %s starting: goal=%q max_steps=%d dry_run=%v",
		r.sessionID, r.cfg.Goal, r.cfg.MaxSteps, r.cfg.DryRun)
	if err := r.store.CreateSession(r.sessionID, r.cfg.Goal); err != nil {
		devlog.Printf("[Runner] session persist failed: %v", err)
	}

	for r.step = 1; r.step <= r.cfg.MaxSteps; r.step++ {
		if r.halted(ctx) {
			return r.finish(ReasonKillSwitch), nil
		}
		r.publish(status.KindStepStart, r.step, r.cfg.Goal)

		reason, err := r.iterate(ctx)
		if err != nil {
			return r.finish(ReasonAPIFailure), err
		}
		if reason != "" {
			return r.finish(reason), nil
		}

		if r.cfg.LoopInterval > 0 {
			r.sleep(ctx, r.cfg.LoopInterval)
		}
	}
	return r.finish(ReasonMaxSteps), nil
}

// iterate runs one capture-decide-execute-verify pass. A non-empty reason
// terminates the loop; an error is a permanent upstream failure.
func (r *Runner) iterate(ctx context.Context) (ExitReason, error) {
	frame, err := r.capturer.Capture()
	if err != nil {
		devlog.Printf("[Runner] capture failed: %v", err)
		r.failures++
		r.sleep(ctx, backtrackPause)
		return "", nil
	}

	win, err := r.windower.Foreground()
	if err != nil {
		win = desktop.Window{}
	}

	// Secure-desktop UAC prompts cannot be automated. Wait for the human.
	if isUACSecureDesktop(win.ProcessPath, win.Title) {
		devlog.Printf("[Runner] UAC prompt detected; waiting for manual approval")
		r.sleep(ctx, secureDeskPause)
		return "", nil
	}
	if isOpenWithDialog(win.Title, win.ProcessPath) {
		devlog.Printf("[Runner] 'Open with' dialog detected; dismissing")
		if !r.cfg.DryRun {
			if err := r.injector.Dismiss(ctx); err != nil {
				devlog.Printf("[Runner] dismiss failed: %v", err)
			}
		}
		r.sleep(ctx, dialogClosePause)
		return "", nil
	}

	signals := detect.Detect(r.prevFrame, frame, r.prevWin, win, "")
	screenChanged := r.prevFrame == nil || !signals.Unchanged

	if !screenChanged && r.mem.StepCount() > 0 {
		r.staleCount++
	} else {
		r.staleCount = 0
		r.backtrackLevel = 0
	}

	if r.staleCount >= staleThreshold {
		r.backtrackLevel++
		r.backtrack(ctx)
		r.prevFrame, r.prevWin = frame, win
		r.sleep(ctx, backtrackPause)
		return "", nil
	}

	var advice *detect.Advice
	if r.prevFrame != nil {
		advice = detect.SuggestRecovery(signals)
	}

	rec := r.mem.BeginStep(r.step, win.Title, win.ProcessPath)
	p, reason, err := r.decide(ctx, rec, frame, win, advice, screenChanged)
	if err != nil || reason != "" || p == nil {
		r.prevFrame, r.prevWin = frame, win
		return reason, err
	}

	r.checklist.UpdateFromModel(p.Meta.Progress)

	// Plan repetition plus a frozen screen means the model is looping.
	// Force the ladder instead of executing the same plan again.
	sig := p.Signature()
	r.recentPlanSigs = append(r.recentPlanSigs, sig)
	if len(r.recentPlanSigs) > planSigHistory {
		r.recentPlanSigs = r.recentPlanSigs[len(r.recentPlanSigs)-planSigHistory:]
	}
	if n := len(r.recentPlanSigs); n >= 2 && r.recentPlanSigs[n-1] == r.recentPlanSigs[n-2] && !screenChanged {
		devlog.Printf("[Runner] plan repetition with unchanged screen; forcing backtrack")
		r.mem.RecordFailure(rec, "repeated the same plan with no screen change")
		r.mem.RecordOutcome(rec, memory.OutcomeFailure, "stuck: repeated plan")
		r.persistStep(rec)
		r.staleCount = staleThreshold
		r.prevFrame, r.prevWin = frame, win
		return "", nil
	}

	results, stopReq, askBreak := r.execute(ctx, p)
	r.mem.RecordExecution(rec, results)
	r.checklist.UpdateFromStep(p.Meta.Observation, results)

	if advice != nil {
		r.mem.RecordFailure(rec, advice.Note)
	}

	if stopReq {
		reason, accepted := r.handleStop(ctx, p, rec, frame)
		if accepted {
			r.persistStep(rec)
			return reason, nil
		}
		// Verification rejected the stop. Keep looping unless the
		// rejection budget is gone.
		r.mem.RecordOutcome(rec, memory.OutcomeFailure, "stop rejected by verifier")
		r.persistStep(rec)
		r.prevFrame, r.prevWin = frame, win
		return reason, nil
	}

	outcome, details := stepOutcome(results)
	r.mem.RecordOutcome(rec, outcome, details)
	r.persistStep(rec)
	r.publish(status.KindExecution, r.step, details)

	if askBreak {
		// A human just answered; re-capture before the next decision.
		r.prevFrame, r.prevWin = nil, desktop.Window{}
		return "", nil
	}

	r.prevFrame, r.prevWin = frame, win
	return "", nil
}

// decide builds the prompt, calls the model, and validates the plan with at
// most one repair round-trip. A nil plan with empty reason means the
// iteration is skipped.
func (r *Runner) decide(ctx context.Context, rec *memory.StepRecord, frame *desktop.Frame, win desktop.Window, advice *detect.Advice, screenChanged bool) (*plan.Plan, ExitReason, error) {
	userText := buildUserPrompt(promptContext{
		Goal:             r.cfg.Goal,
		WindowTitle:      win.Title,
		ProcessPath:      win.ProcessPath,
		Step:             r.step,
		ScreenshotWidth:  frame.Width,
		ScreenshotHeight: frame.Height,
		RecentActions:    r.mem.ActionLogTail(),
		CompletedSummary: r.mem.CompletedActionsSummary(),
		Checklist:        r.checklist.Render(),
		HumanNotes:       r.humanNotes,
		Advice:           advice,
		ScreenChanged:    screenChanged,
	})

	messages := r.conversation()
	messages = append(messages, ai.VisionMessage(frame.PNG, userText))

	req := &ai.ChatRequest{
		System:      systemPrompt,
		Messages:    messages,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	}

	r.publish(status.KindDecision, r.step, "asking model for next actions")
	resp, err := r.client.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ReasonKillSwitch, nil
		}
		r.mem.RecordOutcome(rec, memory.OutcomeAPIError, err.Error())
		r.persistStep(rec)
		if ai.IsAuthError(err) || !ai.IsRetryable(err) {
			return nil, "", fmt.Errorf("model service failed permanently: %w", err)
		}
		// The client already exhausted its retry budget; surface it.
		return nil, "", fmt.Errorf("model service unavailable: %w", err)
	}

	r.mem.RecordResponse(rec, resp.Text)
	r.mem.AddTurn(ai.RoleUser, userText, r.step)
	r.mem.AddTurn(ai.RoleAssistant, resp.Text, r.step)

	p, perr := plan.Parse(resp.Text)
	if perr != nil {
		p, perr = r.repair(ctx, rec, messages, resp.Text, perr)
	}
	if perr != nil {
		r.parseFailures++
		devlog.Printf("[Runner] invalid plan (%d consecutive): %v", r.parseFailures, perr)
		r.mem.RecordOutcome(rec, memory.OutcomeParseError, perr.Error())
		r.persistStep(rec)
		if r.parseFailures >= MaxConsecutiveParseFailures {
			return nil, ReasonParseFailures, nil
		}
		return nil, "", nil
	}

	r.parseFailures = 0
	r.mem.RecordPlan(rec, p)
	return p, "", nil
}

// repair gives the model exactly one chance to fix an invalid response.
func (r *Runner) repair(ctx context.Context, rec *memory.StepRecord, messages []ai.Message, badText string, perr error) (*plan.Plan, error) {
	repaired := append(append([]ai.Message(nil), messages...),
		ai.TextMessage(ai.RoleAssistant, badText),
		ai.TextMessage(ai.RoleUser, repairPrompt(perr, badText)),
	)
	temp := r.cfg.Temperature
	if temp > 0.3 {
		temp = 0.3
	}
	resp, err := r.client.Complete(ctx, &ai.ChatRequest{
		System:      systemPrompt,
		Messages:    repaired,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: temp,
	})
	if err != nil {
		return nil, perr
	}
	r.mem.RecordResponse(rec, resp.Text)
	return plan.Parse(resp.Text)
}

// silentSkipTypes are the action types dedup withholds outright. Text and
// key navigation legitimately repeat, so they are only warned about.
var silentSkipTypes = map[plan.ActionType]bool{
	plan.ActionHotkey:     true,
	plan.ActionMouseClick: true,
}

// dedupWindowSteps bounds how far back duplicate detection looks.
const dedupWindowSteps = 3

// execute dispatches the plan's actions in order. It stops at the first
// failure, at stop, at ask_user, and whenever the kill switch fires
// mid-plan.
func (r *Runner) execute(ctx context.Context, p *plan.Plan) (results []memory.ActionResult, stopReq, askBreak bool) {
	for _, a := range p.Actions {
		if r.halted(ctx) {
			break
		}

		if prevStep, dup := r.mem.FindRecentDuplicate(a, dedupWindowSteps); dup {
			if silentSkipTypes[a.Type] {
				devlog.Printf("[Runner] skipping duplicate of step %d: %s", prevStep, a.Summary())
				results = append(results, memory.ActionResult{Action: a, Success: true, DedupSkipped: true})
				continue
			}
			devlog.Printf("[Runner] repeating action that already succeeded in step %d: %s", prevStep, a.Summary())
		}

		switch a.Type {
		case plan.ActionStop:
			devlog.Printf("[Runner] STOP requested: %s", a.Reason)
			results = append(results, memory.ActionResult{Action: a, Success: true})
			stopReq = true
			return results, stopReq, askBreak

		case plan.ActionAskUser:
			answer := r.promptHuman(a)
			results = append(results, memory.ActionResult{Action: a, Success: true})
			r.addHumanNote(fmt.Sprintf("Q: %s -> %s", a.Question, answer))
			askBreak = true
			return results, stopReq, askBreak
		}

		if r.cfg.DryRun {
			devlog.Printf("[Runner] (dry-run) %s", a.Summary())
			results = append(results, memory.ActionResult{Action: a, Success: true})
			r.actionsExecuted++
			continue
		}

		start := time.Now()
		err := r.injector.Execute(ctx, a)
		res := memory.ActionResult{
			Action:   a,
			Success:  err == nil,
			Duration: time.Since(start),
		}
		if err != nil {
			res.Error = err.Error()
			r.failures++
			devlog.Printf("[Runner] action failed: %s: %v", a.Summary(), err)
		} else {
			r.actionsExecuted++
		}
		results = append(results, res)
		if err != nil {
			break
		}
	}
	return results, stopReq, askBreak
}

// handleStop gates a requested stop behind the verification pass when one
// is configured and the goal demands evidence. Accepted stops carry their
// terminating reason; a rejected stop returns accepted=false, with a
// non-empty reason only once the rejection budget is exhausted.
func (r *Runner) handleStop(ctx context.Context, p *plan.Plan, rec *memory.StepRecord, lastFrame *desktop.Frame) (ExitReason, bool) {
	if r.verifier == nil || !r.cfg.VerifyStops || !verify.GoalRequiresEvidence(r.cfg.Goal) {
		r.mem.RecordOutcome(rec, memory.OutcomeStopped, stopReason(p))
		return ReasonStopped, true
	}

	r.publish(status.KindVerifying, r.step, "verifying claimed completion")
	frame, err := r.capturer.Capture()
	if err != nil {
		devlog.Printf("[Runner] verification capture failed: %v", err)
		frame = lastFrame
	}
	win, _ := r.windower.Foreground()

	res := r.verifier.Verify(ctx, r.cfg.Goal, frame, win, r.step)
	r.mem.RecordVerification(rec, res.Reason)

	if r.verifier.Accept(res) {
		devlog.Printf("[Runner] goal verified: %s", res.Reason)
		r.mem.RecordOutcome(rec, memory.OutcomeVerifiedComplete, res.Reason)
		return ReasonGoalVerified, true
	}

	r.stopRejections++
	devlog.Printf("[Runner] stop rejected (%d/%d): %s", r.stopRejections, verify.MaxStopRejections, res.Reason)
	r.addHumanNote("VERIFIER: stop rejected: " + res.Reason)
	if r.stopRejections >= verify.MaxStopRejections {
		return ReasonVerifyRejections, false
	}
	return "", false
}

// conversation converts the bounded turn history into API messages.
func (r *Runner) conversation() []ai.Message {
	turns := r.mem.ConversationTurns()
	messages := make([]ai.Message, 0, len(turns)+1)
	for _, t := range turns {
		messages = append(messages, ai.TextMessage(t.Role, t.Text))
	}
	return messages
}

func (r *Runner) promptHuman(a plan.Action) string {
	if r.askUser == nil {
		devlog.Printf("[Runner] ask_user with no human available: %s", a.Question)
		return "no human available; decide yourself and continue"
	}
	answer, err := r.askUser(a.Question, a.Options)
	if err != nil || answer == "" {
		if len(a.Options) > 0 {
			return a.Options[0]
		}
		return ""
	}
	return answer
}

func (r *Runner) addHumanNote(note string) {
	r.humanNotes = append(r.humanNotes, note)
	if len(r.humanNotes) > 20 {
		r.humanNotes = r.humanNotes[len(r.humanNotes)-20:]
	}
}

func (r *Runner) persistStep(rec *memory.StepRecord) {
	if err := r.store.AppendStep(r.sessionID, rec); err != nil {
		devlog.Printf("[Runner] step persist failed: %v", err)
	}
}

func (r *Runner) publish(kind status.Kind, step int, text string) {
	if r.feed != nil {
		r.feed.Publish(kind, step, text)
	}
}

func (r *Runner) halted(ctx context.Context) bool {
	return r.kill.Triggered() || ctx.Err() != nil
}

// finish logs the legible trail every run leaves behind.
func (r *Runner) finish(reason ExitReason) *Trail {
	steps := r.step
	if steps > r.cfg.MaxSteps {
		steps = r.cfg.MaxSteps
	}
	t := &Trail{
		Reason:          reason,
		Steps:           steps,
		ActionsExecuted: r.actionsExecuted,
		Failures:        r.failures,
	}
	devlog.Printf("[Runner] session %s finished: reason=%s steps=%d actions=%d failures=%d",
		r.sessionID, t.Reason, t.Steps, t.ActionsExecuted, t.Failures)
	r.publish(status.KindTerminated, r.step, string(reason))
	return t
}

// stepOutcome folds per-action results into the step-level tag.
func stepOutcome(results []memory.ActionResult) (memory.Outcome, string) {
	executed, failed := 0, 0
	var firstErr string
	for _, res := range results {
		if res.DedupSkipped {
			continue
		}
		executed++
		if !res.Success {
			failed++
			if firstErr == "" {
				firstErr = res.Error
			}
		}
	}
	switch {
	case executed == 0:
		return memory.OutcomeSuccess, "no actions executed"
	case failed == 0:
		return memory.OutcomeSuccess, fmt.Sprintf("%d actions executed", executed)
	case failed < executed:
		return memory.OutcomePartial, fmt.Sprintf("%d of %d actions failed: %s", failed, executed, firstErr)
	default:
		return memory.OutcomeFailure, firstErr
	}
}

func stopReason(p *plan.Plan) string {
	for _, a := range p.Actions {
		if a.Type == plan.ActionStop {
			return a.Reason
		}
	}
	return "stop requested"
}

// isUACSecureDesktop reports whether Windows moved focus to the consent
// secure desktop, which no injected input can reach.
func isUACSecureDesktop(processPath, title string) bool {
	p := strings.ToLower(strings.ReplaceAll(processPath, "/", `\`))
	if strings.HasSuffix(p, `\consent.exe`) {
		return true
	}
	return strings.Contains(strings.ToLower(title), "user account control")
}

var openWithKeywords = []string{
	"open with",
	"how do you want to open",
	"choose an app",
	"choose an application",
	"select an app",
	"always use this app",
}

// isOpenWithDialog flags the Windows "Open with / Choose an app" chooser,
// which traps naive automation.
func isOpenWithDialog(title, processPath string) bool {
	t := strings.ToLower(title)
	for _, kw := range openWithKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	p := strings.ToLower(strings.ReplaceAll(processPath, "/", `\`))
	return strings.HasSuffix(p, `\openwith.exe`)
}

// sleepCtx waits in short slices so cancellation is honored promptly.
func sleepCtx(ctx context.Context, d time.Duration) {
	const slice = 250 * time.Millisecond
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		if remaining > slice {
			remaining = slice
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(remaining):
		}
	}
}
