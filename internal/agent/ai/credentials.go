package ai

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aiklabs/aik/internal/devlog"
)

// ErrNoCredentials means the pool was constructed without any API keys.
var ErrNoCredentials = errors.New("no credentials configured")

type credState struct {
	key           string
	cooldownUntil time.Time
	disabled      bool // auth-rejected, out for the rest of the session
}

// CredentialPool rotates API keys round-robin. A rate-limited key is put on
// cooldown and the pool advances to the next free key immediately; when every
// key is cooling, Acquire sleeps until the earliest one frees up.
type CredentialPool struct {
	mu    sync.Mutex
	creds []credState
	next  int
	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCredentialPool builds a pool over the given API keys in order.
func NewCredentialPool(keys []string) *CredentialPool {
	creds := make([]credState, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		creds = append(creds, credState{key: k})
	}
	return &CredentialPool{creds: creds, clock: time.Now, sleep: sleepCtx}
}

// Size returns the number of usable credentials.
func (p *CredentialPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.creds {
		if !c.disabled {
			n++
		}
	}
	return n
}

// Acquire returns the index of the next usable credential, blocking through
// cooldowns. The context aborts the wait.
func (p *CredentialPool) Acquire(ctx context.Context) (int, error) {
	for {
		idx, wait, err := p.tryAcquire()
		if err != nil {
			return -1, err
		}
		if wait <= 0 {
			return idx, nil
		}
		devlog.Printf("[Credentials] all keys cooling down, waiting %s", wait.Round(time.Millisecond))
		if err := p.sleep(ctx, wait); err != nil {
			return -1, err
		}
	}
}

// tryAcquire picks the next free credential, or reports how long until one
// frees up.
func (p *CredentialPool) tryAcquire() (int, time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.creds) == 0 {
		return -1, 0, ErrNoCredentials
	}

	now := p.clock()
	var soonest time.Duration = -1
	usable := false

	for i := 0; i < len(p.creds); i++ {
		idx := (p.next + i) % len(p.creds)
		c := &p.creds[idx]
		if c.disabled {
			continue
		}
		usable = true
		if !c.cooldownUntil.After(now) {
			p.next = (idx + 1) % len(p.creds)
			return idx, 0, nil
		}
		remaining := c.cooldownUntil.Sub(now)
		if soonest < 0 || remaining < soonest {
			soonest = remaining
		}
	}

	if !usable {
		return -1, 0, ErrNoCredentials
	}
	return -1, soonest, nil
}

// Key returns the API key at idx.
func (p *CredentialPool) Key(idx int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.creds) {
		return ""
	}
	return p.creds[idx].key
}

// MarkCooldown sidelines a credential for d. Used after rate limits so the
// next Acquire rotates past it.
func (p *CredentialPool) MarkCooldown(idx int, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.creds) {
		return
	}
	until := p.clock().Add(d)
	if until.After(p.creds[idx].cooldownUntil) {
		p.creds[idx].cooldownUntil = until
	}
}

// Disable removes a credential for the rest of the session, for keys the
// API rejected outright.
func (p *CredentialPool) Disable(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.creds) {
		return
	}
	p.creds[idx].disabled = true
	devlog.Printf("[Credentials] key #%d disabled after auth rejection", idx+1)
}

// sleepCtx sleeps in short slices so a cancelled context interrupts long
// waits promptly.
func sleepCtx(ctx context.Context, d time.Duration) error {
	const slice = 250 * time.Millisecond
	deadline := time.Now().Add(d)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if remaining > slice {
			remaining = slice
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(remaining):
		}
	}
}
