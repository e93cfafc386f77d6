package llmx

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/observability"
	"mnemo/internal/retry"
)

// AnthropicBackend adapts the Anthropic SDK to the oracle's Backend contract,
// following the request construction and span/log discipline the teacher's
// internal/llm/anthropic client uses around c.sdk.Messages.New.
type AnthropicBackend struct {
	sdk   anthropic.Client
	retry retry.Config
}

func NewAnthropicBackend(apiKey, baseURL string, retryCfg retry.Config) *AnthropicBackend {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	return &AnthropicBackend{sdk: anthropic.NewClient(opts...), retry: retryCfg}
}

func (b *AnthropicBackend) Create(ctx context.Context, req Request) (Response, error) {
	var sys []anthropic.TextBlockParam
	var msgs []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			sys = append(sys, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(req.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		Messages:    msgs,
		System:      sys,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
	}

	log := observability.LoggerWithTrace(ctx)
	var resp *anthropic.Message
	err := retry.Do(ctx, b.retry, log, func(ctx context.Context) error {
		var callErr error
		resp, callErr = b.sdk.Messages.New(ctx, params)
		if callErr != nil {
			var apiErr *anthropic.Error
			if errors.As(callErr, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 408 && apiErr.StatusCode != 429 {
				return callErr
			}
			return retry.Transient(callErr)
		}
		return nil
	})
	if err != nil {
		return Response{}, mnemoerr.Wrap(mnemoerr.LLMGeneration, "anthropic create failed", err, map[string]any{"model": req.Model})
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(tb.Text)
		}
	}

	prompt := int(resp.Usage.InputTokens)
	completion := int(resp.Usage.OutputTokens)
	return Response{
		Content: content.String(),
		Usage:   Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion},
		Metadata: map[string]any{
			"stop_reason": string(resp.StopReason),
			"model":       req.Model,
		},
	}, nil
}
