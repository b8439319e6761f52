package ai

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/aiklabs/aik/internal/devlog"
)

const (
	// MaxAttempts bounds one Complete call across retries and rotations.
	MaxAttempts = 8

	baseBackoff = 1 * time.Second
	maxBackoff  = 30 * time.Second
)

// ProviderFactory builds a provider bound to one API key. The client keeps
// one provider per credential so rotation is just picking another instance.
type ProviderFactory func(apiKey string) Provider

// Client wraps a set of same-vendor providers with retry, exponential
// backoff, and credential rotation. One Client call makes at most
// MaxAttempts API calls.
type Client struct {
	pool      *CredentialPool
	providers []Provider
	sleep     func(ctx context.Context, d time.Duration) error
	jitter    func(max time.Duration) time.Duration
}

// NewClient builds a resilient client over the given API keys.
func NewClient(keys []string, factory ProviderFactory) *Client {
	pool := NewCredentialPool(keys)
	providers := make([]Provider, len(keys))
	for i, k := range keys {
		providers[i] = factory(k)
	}
	return &Client{
		pool:      pool,
		providers: providers,
		sleep:     sleepCtx,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// ID returns the vendor identifier of the underlying providers.
func (c *Client) ID() string {
	if len(c.providers) == 0 {
		return "none"
	}
	return c.providers[0].ID()
}

// Complete calls the provider, retrying transient failures with exponential
// backoff and rotating credentials on rate limits. Non-retryable errors and
// context cancellation return immediately.
func (c *Client) Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	backoff := baseBackoff
	var lastErr error

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		idx, err := c.pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire credential: %w", err)
		}

		resp, err := c.providers[idx].Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if IsAuthError(err) {
			c.pool.Disable(idx)
			if c.pool.Size() > 0 {
				continue // next key, no backoff: the error was key-specific
			}
			return nil, fmt.Errorf("all credentials rejected: %w", err)
		}
		if !IsRetryable(err) {
			return nil, err
		}

		reason := ClassifyErrorReason(err)
		devlog.Printf("[AI] attempt %d/%d failed (%s): %v", attempt, MaxAttempts, reason, err)

		if reason == "rate_limit" {
			// Prefer the server's Retry-After hint; otherwise the key cools
			// for the current backoff interval, which keeps single-key runs
			// on the same exponential curve as other transient errors.
			cooldown := retryAfterHint(err)
			if cooldown <= 0 {
				cooldown = backoff
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			c.pool.MarkCooldown(idx, cooldown)
			// Another free key serves the next attempt immediately;
			// Acquire only sleeps when every key is cooling.
			continue
		}

		wait := backoff + c.jitter(minDuration(time.Second, backoff/3))
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return nil, fmt.Errorf("gave up after %d attempts: %w", MaxAttempts, lastErr)
}

// retryAfterHint extracts the server's Retry-After suggestion if the error
// carried one.
func retryAfterHint(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return pe.RetryAfter
	}
	return 0
}

// parseRetryAfter interprets a Retry-After header value given in seconds.
// HTTP-date values are ignored; both SDKs we use send seconds.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
