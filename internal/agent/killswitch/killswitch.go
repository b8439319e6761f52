// Package killswitch provides the stop flag the control loop checks at the
// top of every iteration and between actions mid-plan. A context derived
// with Context is cancelled the moment the switch fires, so in-flight waits
// (loop pacing, wait_ms actions, API backoff) abort promptly too.
package killswitch

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/aiklabs/aik/internal/devlog"
)

// Switch is a one-way flag: once triggered it stays triggered.
type Switch struct {
	triggered atomic.Bool
	once      sync.Once
	done      chan struct{}
}

func New() *Switch {
	return &Switch{done: make(chan struct{})}
}

// Trigger sets the flag and cancels every context derived from the switch.
// Safe to call from any goroutine, repeatedly.
func (s *Switch) Trigger() {
	if !s.triggered.Swap(true) {
		devlog.Printf("[KillSwitch] triggered")
	}
	s.once.Do(func() { close(s.done) })
}

// Triggered reports whether a stop has been requested.
func (s *Switch) Triggered() bool {
	return s.triggered.Load()
}

// Done returns a channel closed when the switch fires.
func (s *Switch) Done() <-chan struct{} {
	return s.done
}

// Context derives a context cancelled when either the parent ends or the
// switch fires. The control loop runs under this context so a kill signal
// interrupts any context-aware sleep within one slice.
func (s *Switch) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// BindSignals triggers the switch on SIGINT/SIGTERM. A second signal while
// already triggered exits immediately, for loops wedged inside a blocking
// call.
func (s *Switch) BindSignals() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		s.Trigger()
		<-ch
		devlog.Printf("[KillSwitch] second signal, exiting now")
		os.Exit(1)
	}()
}
