package judge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
)

// disagreementThreshold is the score gap between the two backends above
// which the combined verdict is flagged.
const disagreementThreshold = 0.3

// FlagJudgeDisagreement marks a combined verdict whose two backend
// scores differ by more than disagreementThreshold.
const FlagJudgeDisagreement = "judge_disagreement"

// MultiJudge scores through two independent backends in parallel and
// combines the results: arithmetic mean of scores and confidences,
// union of flags, plus a synthetic judge_disagreement flag when the two
// scores diverge.
//
// The caller is oblivious to which concrete providers it holds; both
// sides only need to satisfy Judge.
type MultiJudge struct {
	primary   Judge
	secondary Judge
}

// NewMultiJudge pairs two backends. Both must be non-nil.
func NewMultiJudge(primary, secondary Judge) (*MultiJudge, error) {
	if primary == nil || secondary == nil {
		return nil, fmt.Errorf("multi-judge requires two backends")
	}
	return &MultiJudge{primary: primary, secondary: secondary}, nil
}

// Score implements the Judge interface.
//
// Both backend calls run concurrently; if either fails the whole call
// fails, and the dispatcher degrades the verdict as it would for a
// single-backend error.
func (m *MultiJudge) Score(ctx context.Context, systemPrompt, userPrompt string) (*Score, error) {
	var (
		wg         sync.WaitGroup
		sa, sb     *Score
		errA, errB error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		sa, errA = m.primary.Score(ctx, systemPrompt, userPrompt)
	}()
	go func() {
		defer wg.Done()
		sb, errB = m.secondary.Score(ctx, systemPrompt, userPrompt)
	}()
	wg.Wait()

	if errA != nil {
		return nil, fmt.Errorf("primary judge: %w", errA)
	}
	if errB != nil {
		return nil, fmt.Errorf("secondary judge: %w", errB)
	}

	combined := &Score{
		Score:      (sa.Score + sb.Score) / 2,
		Confidence: (sa.Confidence + sb.Confidence) / 2,
		Reasoning:  sa.Reasoning,
		Flags:      unionFlags(sa.Flags, sb.Flags),
		TokenUsage: datatypes.TokenUsage{
			PromptTokens:     sa.TokenUsage.PromptTokens + sb.TokenUsage.PromptTokens,
			CompletionTokens: sa.TokenUsage.CompletionTokens + sb.TokenUsage.CompletionTokens,
			Model:            sa.TokenUsage.Model + "+" + sb.TokenUsage.Model,
		},
	}
	if sb.Reasoning != "" && sb.Reasoning != sa.Reasoning {
		combined.Reasoning = sa.Reasoning + "\n---\n" + sb.Reasoning
	}
	if math.Abs(sa.Score-sb.Score) > disagreementThreshold {
		combined.Flags = append(combined.Flags, FlagJudgeDisagreement)
	}
	return combined, nil
}

func unionFlags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, fs := range [][]string{a, b} {
		for _, f := range fs {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}
