// Package judge provides the scoring capability critics delegate to.
//
// A Judge scores one (system prompt, user prompt) pair and returns a
// structured Score. Backends exist for OpenAI-style and Anthropic-style
// APIs; MultiJudge combines two backends into one verdict.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
)

// ErrMalformedResponse indicates the backend returned text that did not
// contain a parseable score object.
var ErrMalformedResponse = errors.New("judge returned malformed response")

// Score is the structured output of one judge call.
type Score struct {
	Score      float64              `json:"score"`
	Confidence float64              `json:"confidence"`
	Reasoning  string               `json:"reasoning"`
	Flags      []string             `json:"flags,omitempty"`
	TokenUsage datatypes.TokenUsage `json:"token_usage"`
}

// Judge is the capability interface a critic delegates to for scoring.
// Implementations fail with transport, timeout, or parse errors; the
// dispatcher maps any failure to a degraded verdict.
type Judge interface {
	Score(ctx context.Context, systemPrompt, userPrompt string) (*Score, error)
}

// JudgeFunc adapts a function to the Judge interface.
type JudgeFunc func(ctx context.Context, systemPrompt, userPrompt string) (*Score, error)

// Score implements Judge.
func (f JudgeFunc) Score(ctx context.Context, systemPrompt, userPrompt string) (*Score, error) {
	return f(ctx, systemPrompt, userPrompt)
}

// ParseScore extracts a Score from raw model output.
//
// Models wrap JSON in prose or markdown fences often enough that strict
// unmarshalling is not viable; this scans for the outermost JSON object
// and decodes that. Score and confidence are clamped to [0,1].
func ParseScore(raw string) (*Score, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in %q", ErrMalformedResponse, snippet(raw))
	}

	var s Score
	if err := json.Unmarshal([]byte(raw[start:end+1]), &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	s.Score = clamp01(s.Score)
	s.Confidence = clamp01(s.Confidence)
	return &s, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func snippet(s string) string {
	const max = 120
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
