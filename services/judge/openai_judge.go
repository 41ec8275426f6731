package judge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
)

// OpenAIJudge scores content through the OpenAI chat completions API.
type OpenAIJudge struct {
	client *openai.Client
	model  string
}

// NewOpenAIJudge creates a judge backed by OpenAI.
//
// The API key is read from OPENAI_API_KEY, falling back to the mounted
// secret at /run/secrets/openai_api_key. The model defaults to
// gpt-4o-mini when OPENAI_MODEL is unset.
func NewOpenAIJudge() (*OpenAIJudge, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from mounted secret")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI judge", "model", model)
	return &OpenAIJudge{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// NewOpenAIJudgeWithClient creates a judge with an explicit client.
// Used by tests and by callers that manage credentials themselves.
func NewOpenAIJudgeWithClient(client *openai.Client, model string) *OpenAIJudge {
	return &OpenAIJudge{client: client, model: model}
}

// Score implements the Judge interface.
func (o *OpenAIJudge) Score(ctx context.Context, systemPrompt, userPrompt string) (*Score, error) {
	slog.Debug("Scoring via OpenAI", "model", o.model)
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return nil, fmt.Errorf("OpenAI returned no choices")
	}

	score, err := ParseScore(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	score.TokenUsage = datatypes.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Model:            resp.Model,
	}
	return score, nil
}
