package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Roles used in the conversation transcript sent to providers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Default models used when the config leaves the model name empty. Both
// need vision support; haiku keeps per-screenshot cost low.
const (
	DefaultAnthropicModel = "claude-haiku-4-5-20251001"
	DefaultOpenAIModel    = "gpt-5.2"
)

// BlockType identifies the payload carried by a ContentBlock.
type BlockType string

const (
	BlockText  BlockType = "text"
	BlockImage BlockType = "image"
)

// ContentBlock is one unit of message content: either text or a PNG
// screenshot. Providers translate blocks into their own wire formats.
type ContentBlock struct {
	Type BlockType `json:"type"`
	Text string    `json:"text,omitempty"`
	// ImagePNG holds raw PNG bytes; providers base64-encode as needed.
	ImagePNG []byte `json:"-"`
}

// Message is one turn in the conversation sent to the model.
type Message struct {
	Role   string         `json:"role"`
	Blocks []ContentBlock `json:"blocks"`
}

// TextMessage builds a single-block text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Blocks: []ContentBlock{{Type: BlockText, Text: text}}}
}

// VisionMessage builds a user message carrying a screenshot followed by text.
func VisionMessage(png []byte, text string) Message {
	return Message{
		Role: RoleUser,
		Blocks: []ContentBlock{
			{Type: BlockImage, ImagePNG: png},
			{Type: BlockText, Text: text},
		},
	}
}

// ChatRequest is a provider-neutral completion request.
type ChatRequest struct {
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"` // overrides the provider default
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// ChatResponse is the model's reply plus usage accounting.
type ChatResponse struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	StopReason   string `json:"stop_reason,omitempty"`
	InputTokens  int64  `json:"input_tokens,omitempty"`
	OutputTokens int64  `json:"output_tokens,omitempty"`
}

// Provider is a synchronous vision-capable chat backend.
type Provider interface {
	// ID returns the provider identifier (e.g., "anthropic", "openai")
	ID() string

	// Complete sends the request and blocks until the full reply arrives.
	Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// ProviderError represents an error surfaced by a provider API call.
type ProviderError struct {
	Status     int           `json:"status,omitempty"`
	Type       string        `json:"type,omitempty"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"-"` // server hint, zero when absent
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Message)
	}
	return e.Message
}

// Retryable reports whether the call may succeed on a later attempt.
// Rate limits, overload, and server-side failures are transient; client
// errors like bad requests or auth failures are not.
func (e *ProviderError) Retryable() bool {
	switch {
	case e.Status == 429:
		return true
	case e.Status >= 500: // includes Anthropic's 529 overloaded
		return true
	case e.Type == "overloaded_error" || e.Type == "rate_limit_error":
		return true
	}
	return false
}

// RateLimited reports whether the error should rotate to another credential
// rather than simply backing off on the current one.
func (e *ProviderError) RateLimited() bool {
	return e.Status == 429 || e.Status == 529 ||
		e.Type == "rate_limit_error" || e.Type == "overloaded_error"
}

// IsAuthError checks for credential rejection. Auth failures sideline the
// credential for the rest of the session instead of a short cooldown.
func IsAuthError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Status == 401 || pe.Status == 403 {
			return true
		}
		return pe.Type == "authentication_error" || pe.Type == "permission_error"
	}
	return false
}

// IsRetryable classifies any error for the retry loop. Plain network errors
// (no ProviderError in the chain) are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return true
}

// ClassifyErrorReason buckets an error for logging and cooldown selection.
// Returns: "rate_limit", "auth", "billing", "timeout", or "other".
func ClassifyErrorReason(err error) string {
	if err == nil {
		return "other"
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		switch {
		case pe.RateLimited():
			return "rate_limit"
		case pe.Status == 401 || pe.Status == 403:
			return "auth"
		case pe.Status == 402:
			return "billing"
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "rate limit", "rate_limit", "too many requests", "overloaded", "throttl"):
		return "rate_limit"
	case containsAny(msg, "billing", "quota", "insufficient", "payment", "credit balance"):
		return "billing"
	case containsAny(msg, "authentication", "unauthorized", "api key", "invalid credentials", "forbidden"):
		return "auth"
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return "timeout"
	}
	return "other"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
