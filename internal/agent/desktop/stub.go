package desktop

import (
	"context"
	"time"

	"github.com/aiklabs/aik/internal/agent/plan"
	"github.com/aiklabs/aik/internal/devlog"
)

// UnknownWindower always reports an unknown foreground window. Used where
// window introspection is unavailable; the loop tolerates empty identity.
type UnknownWindower struct{}

func (UnknownWindower) Foreground() (Window, error) {
	return Window{}, nil
}

// LogInjector logs every action instead of injecting it. It is the dry-run
// and test injector; real input synthesis lives behind the same interface
// in platform-specific builds.
type LogInjector struct{}

func (LogInjector) Execute(ctx context.Context, a plan.Action) error {
	if a.Type == plan.ActionWaitMs {
		// Waits are honored even in dry runs so pacing stays realistic.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(a.Ms) * time.Millisecond):
		}
	}
	devlog.Printf("[Injector] (dry-run) %s", a.Summary())
	return nil
}

func (LogInjector) Dismiss(ctx context.Context) error {
	devlog.Printf("[Injector] (dry-run) dismiss (escape)")
	return nil
}

func (LogInjector) NeutralClick(ctx context.Context) error {
	devlog.Printf("[Injector] (dry-run) neutral click")
	return nil
}

func (LogInjector) SwitchWindow(ctx context.Context) error {
	devlog.Printf("[Injector] (dry-run) switch window (alt+tab)")
	return nil
}
