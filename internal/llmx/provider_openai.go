package llmx

import (
	"context"
	"errors"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/observability"
	"mnemo/internal/retry"
)

// OpenAIBackend adapts the OpenAI SDK's chat-completions surface to the
// oracle's Backend contract, mirroring the teacher's
// internal/llm/openai client's params construction.
type OpenAIBackend struct {
	sdk   sdk.Client
	retry retry.Config
}

func NewOpenAIBackend(apiKey, baseURL string, retryCfg retry.Config) *OpenAIBackend {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIBackend{sdk: sdk.NewClient(opts...), retry: retryCfg}
}

func (b *OpenAIBackend) Create(ctx context.Context, req Request) (Response, error) {
	var msgs []sdk.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, sdk.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, sdk.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, sdk.UserMessage(m.Content))
		}
	}

	params := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(req.Model),
		Messages:    msgs,
		Temperature: param.NewOpt(req.Temperature),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxOutputTokens))
	}

	log := observability.LoggerWithTrace(ctx)
	var comp *sdk.ChatCompletion
	err := retry.Do(ctx, b.retry, log, func(ctx context.Context) error {
		var callErr error
		comp, callErr = b.sdk.Chat.Completions.New(ctx, params)
		if callErr != nil {
			var apiErr *sdk.Error
			if errors.As(callErr, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 408 && apiErr.StatusCode != 429 {
				return callErr
			}
			return retry.Transient(callErr)
		}
		return nil
	})
	if err != nil {
		return Response{}, mnemoerr.Wrap(mnemoerr.LLMGeneration, "openai create failed", err, map[string]any{"model": req.Model})
	}

	content := ""
	if len(comp.Choices) > 0 {
		content = comp.Choices[0].Message.Content
	}
	prompt := int(comp.Usage.PromptTokens)
	completion := int(comp.Usage.CompletionTokens)
	return Response{
		Content: content,
		Usage:   Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion},
		Metadata: map[string]any{
			"model": req.Model,
		},
	}, nil
}
