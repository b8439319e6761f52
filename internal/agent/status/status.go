// Package status carries loop progress events to optional consumers (CLI
// spinners, overlays) over a bounded feed. Publishing never blocks the
// loop: when the buffer is full the oldest event is dropped.
package status

import (
	"sync"
	"time"
)

// Kind classifies a loop event.
type Kind string

const (
	KindStepStart  Kind = "step_start"
	KindDecision   Kind = "decision"
	KindExecution  Kind = "execution"
	KindRecovery   Kind = "recovery"
	KindVerifying  Kind = "verifying"
	KindTerminated Kind = "terminated"
)

// Event is one progress update.
type Event struct {
	Kind Kind      `json:"kind"`
	Step int       `json:"step"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Feed is a one-directional bounded event queue.
type Feed struct {
	mu sync.Mutex
	ch chan Event
}

// NewFeed builds a feed holding up to size events; size <= 0 picks 64.
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 64
	}
	return &Feed{ch: make(chan Event, size)}
}

// Publish enqueues an event, evicting the oldest when full. It never
// blocks.
func (f *Feed) Publish(kind Kind, step int, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := Event{Kind: kind, Step: step, Text: text, At: time.Now()}
	for {
		select {
		case f.ch <- ev:
			return
		default:
			// Full: drop the oldest and retry. The loop never waits on
			// a slow consumer.
			select {
			case <-f.ch:
			default:
			}
		}
	}
}

// Events exposes the receive side for consumers.
func (f *Feed) Events() <-chan Event {
	return f.ch
}
