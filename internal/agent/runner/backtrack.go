package runner

import (
	"context"

	"github.com/aiklabs/aik/internal/agent/desktop"
	"github.com/aiklabs/aik/internal/agent/status"
	"github.com/aiklabs/aik/internal/devlog"
)

// staleThreshold is how many consecutive unchanged-screen iterations put
// the loop into recovery.
const staleThreshold = 2

// backtrackRule is one rung of the escalating recovery ladder. Apply runs
// the physical recovery (nil for advisory-only rungs), Note is injected
// into the next prompt as a human note, ResetStale lets the model take
// another normal turn before the ladder escalates again, and ResetLevel
// restarts the ladder from the bottom.
type backtrackRule struct {
	Level      int
	Note       string
	Apply      func(ctx context.Context, inj desktop.Injector) error
	ResetStale bool
	ResetLevel bool
}

// backtrackLadder is the full transition table, lowest rung first. Levels
// past the last entry reuse it, so a persistently stuck loop keeps cycling
// the ask-human rung instead of terminating.
var backtrackLadder = []backtrackRule{
	{
		Level: 1,
		Note:  "AUTO-BACKTRACK L1: sent Escape to dismiss whatever is blocking the UI",
		Apply: func(ctx context.Context, inj desktop.Injector) error {
			return inj.Dismiss(ctx)
		},
	},
	{
		Level: 2,
		Note:  "AUTO-BACKTRACK L2: clicked a neutral area and sent Escape",
		Apply: func(ctx context.Context, inj desktop.Injector) error {
			if err := inj.NeutralClick(ctx); err != nil {
				return err
			}
			return inj.Dismiss(ctx)
		},
	},
	{
		Level: 3,
		Note: "AUTO-BACKTRACK L3: Your previous actions had NO effect. " +
			"You MUST try a COMPLETELY different approach now. " +
			"If mouse clicks aren't working, use keyboard shortcuts. " +
			"If keyboard isn't working, try clicking a different area. " +
			"Consider scrolling to find the element if it's not visible.",
		ResetStale: true,
	},
	{
		Level: 4,
		Note:  "AUTO-BACKTRACK L4: switched window focus away and back",
		Apply: func(ctx context.Context, inj desktop.Injector) error {
			return inj.SwitchWindow(ctx)
		},
		ResetStale: true,
	},
	{
		Level: 5,
		Note:  "", // filled in by backtrack() depending on human availability
		Apply: func(ctx context.Context, inj desktop.Injector) error {
			return inj.Dismiss(ctx)
		},
		ResetStale: true,
		ResetLevel: true,
	},
}

// ruleForLevel selects the ladder rung for a backtrack level, clamping past
// the top.
func ruleForLevel(level int) backtrackRule {
	for _, r := range backtrackLadder {
		if r.Level == level {
			return r
		}
	}
	return backtrackLadder[len(backtrackLadder)-1]
}

// backtrack runs one rung of the ladder. The level has already been
// incremented by the caller; each stuck iteration climbs exactly one rung.
func (r *Runner) backtrack(ctx context.Context) {
	rule := ruleForLevel(r.backtrackLevel)
	devlog.Printf("[Runner] backtrack L%d (stale=%d)", r.backtrackLevel, r.staleCount)

	note := rule.Note
	if rule.Level >= 5 && r.askUser != nil {
		hint, err := r.askUser(
			"Agent is stuck. What should it do?",
			[]string{
				"Give a text hint",
				"Press Esc and retry",
				"Try keyboard shortcuts instead",
				"Skip this and continue",
			},
		)
		if err == nil && hint != "" {
			note = "USER HINT: " + hint
		}
	} else if rule.Level >= 5 {
		note = "AUTO-BACKTRACK: stuck with no human available. Sent Escape."
	}

	if rule.Apply != nil && !r.cfg.DryRun {
		if err := rule.Apply(ctx, r.injector); err != nil {
			devlog.Printf("[Runner] backtrack L%d action failed: %v", rule.Level, err)
		}
	}
	if note != "" {
		r.addHumanNote(note)
	}
	r.publish(status.KindRecovery, r.step, note)

	if rule.ResetStale {
		r.staleCount = 0
	}
	if rule.ResetLevel {
		r.backtrackLevel = 0
	}
}
