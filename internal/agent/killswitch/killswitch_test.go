package killswitch

import (
	"context"
	"testing"
	"time"
)

func TestTriggerIsIdempotent(t *testing.T) {
	s := New()
	if s.Triggered() {
		t.Fatal("new switch must start untriggered")
	}
	s.Trigger()
	s.Trigger()
	if !s.Triggered() {
		t.Fatal("switch must stay triggered")
	}
}

func TestTriggerCancelsDerivedContext(t *testing.T) {
	s := New()
	ctx, cancel := s.Context(context.Background())
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("context cancelled before trigger")
	default:
	}

	s.Trigger()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("trigger did not cancel the derived context")
	}
	if ctx.Err() == nil {
		t.Fatal("expected a non-nil context error after trigger")
	}
}

func TestDerivedContextFollowsParent(t *testing.T) {
	s := New()
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := s.Context(parent)
	defer cancel()

	cancelParent()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("parent cancellation did not propagate")
	}
	if s.Triggered() {
		t.Fatal("parent cancellation must not trigger the switch")
	}
}

func TestTriggerAfterContextStillCancels(t *testing.T) {
	s := New()
	s.Trigger()

	// A context derived after the fact is cancelled immediately.
	ctx, cancel := s.Context(context.Background())
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context derived from a triggered switch must cancel")
	}
}
