package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/aiklabs/aik/internal/devlog"
)

// OpenAIProvider implements the OpenAI API using the official SDK
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI provider. SDK-level retries are
// disabled; the resilient Client owns backoff and credential rotation.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = DefaultOpenAIModel
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	)
	return &OpenAIProvider{
		client: client,
		model:  model,
	}
}

// ID returns the provider identifier
func (p *OpenAIProvider) ID() string {
	return "openai"
}

// Complete sends the request and blocks until the full reply arrives.
func (p *OpenAIProvider) Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	messages, err := p.buildMessages(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build messages: %w", err)
	}

	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	devlog.Debugf("[OpenAI] sending request: model=%s messages=%d", model, len(messages))

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Message: "response contained no choices"}
	}

	choice := resp.Choices[0]
	return &ChatResponse{
		Text:         choice.Message.Content,
		Model:        resp.Model,
		StopReason:   string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// buildMessages converts neutral messages to OpenAI chat format. Screenshots
// become data-URI image parts on user messages.
func (p *OpenAIProvider) buildMessages(req *ChatRequest) ([]openai.ChatCompletionMessageParamUnion, error) {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)

	if req.System != "" {
		result = append(result, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		if msg.Role == RoleAssistant {
			// Assistant turns are text-only in this loop.
			var text string
			for _, b := range msg.Blocks {
				if b.Type == BlockText {
					text += b.Text
				}
			}
			if text != "" {
				result = append(result, openai.AssistantMessage(text))
			}
			continue
		}

		var parts []openai.ChatCompletionContentPartUnionParam
		for _, b := range msg.Blocks {
			switch b.Type {
			case BlockText:
				if b.Text == "" {
					continue
				}
				parts = append(parts, openai.TextContentPart(b.Text))
			case BlockImage:
				if len(b.ImagePNG) == 0 {
					continue
				}
				uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(b.ImagePNG)
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: uri,
				}))
			default:
				return nil, fmt.Errorf("unsupported content block type %q", b.Type)
			}
		}
		if len(parts) > 0 {
			result = append(result, openai.UserMessage(parts))
		}
	}

	return result, nil
}

func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		pe := &ProviderError{
			Status:  apiErr.StatusCode,
			Type:    apiErr.Type,
			Message: apiErr.Error(),
		}
		if apiErr.Response != nil {
			pe.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return pe
	}
	return err
}
