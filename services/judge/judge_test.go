package judge

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseScore_PlainJSON(t *testing.T) {
	s, err := ParseScore(`{"score": 0.85, "confidence": 0.9, "reasoning": "on voice"}`)
	if err != nil {
		t.Fatalf("ParseScore: %v", err)
	}
	if s.Score != 0.85 || s.Confidence != 0.9 || s.Reasoning != "on voice" {
		t.Errorf("ParseScore = %+v", s)
	}
}

func TestParseScore_FencedAndProseWrapped(t *testing.T) {
	raw := "Here is my assessment:\n```json\n{\"score\": 0.6, \"confidence\": 0.7, \"reasoning\": \"mixed\", \"flags\": [\"tone_shift\"]}\n```\nLet me know if you need more."
	s, err := ParseScore(raw)
	if err != nil {
		t.Fatalf("ParseScore: %v", err)
	}
	if s.Score != 0.6 {
		t.Errorf("Score = %v, want 0.6", s.Score)
	}
	if len(s.Flags) != 1 || s.Flags[0] != "tone_shift" {
		t.Errorf("Flags = %v", s.Flags)
	}
}

func TestParseScore_ClampsOutOfRange(t *testing.T) {
	s, err := ParseScore(`{"score": 1.7, "confidence": -0.2}`)
	if err != nil {
		t.Fatalf("ParseScore: %v", err)
	}
	if s.Score != 1.0 {
		t.Errorf("Score = %v, want clamped 1.0", s.Score)
	}
	if s.Confidence != 0.0 {
		t.Errorf("Confidence = %v, want clamped 0.0", s.Confidence)
	}
}

func TestParseScore_Malformed(t *testing.T) {
	for _, raw := range []string{"", "no json here", "{broken", "}{"} {
		if _, err := ParseScore(raw); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("ParseScore(%q) error = %v, want ErrMalformedResponse", raw, err)
		}
	}
}

func staticJudge(score, confidence float64, flags ...string) Judge {
	return JudgeFunc(func(ctx context.Context, system, user string) (*Score, error) {
		return &Score{Score: score, Confidence: confidence, Reasoning: "r", Flags: flags}, nil
	})
}

func TestMultiJudge_MeansAndFlagUnion(t *testing.T) {
	m, err := NewMultiJudge(
		staticJudge(0.8, 0.9, "tone_shift"),
		staticJudge(0.6, 0.7, "tone_shift", "canon_gap"),
	)
	if err != nil {
		t.Fatalf("NewMultiJudge: %v", err)
	}

	s, err := m.Score(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if math.Abs(s.Score-0.7) > 1e-9 {
		t.Errorf("Score = %v, want 0.7", s.Score)
	}
	if math.Abs(s.Confidence-0.8) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.8", s.Confidence)
	}
	if len(s.Flags) != 2 {
		t.Errorf("Flags = %v, want union of 2 distinct flags", s.Flags)
	}
}

func TestMultiJudge_DisagreementFlag(t *testing.T) {
	t.Run("flagged when scores diverge", func(t *testing.T) {
		m, _ := NewMultiJudge(staticJudge(0.9, 1), staticJudge(0.2, 1))
		s, err := m.Score(context.Background(), "", "")
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		found := false
		for _, f := range s.Flags {
			if f == FlagJudgeDisagreement {
				found = true
			}
		}
		if !found {
			t.Errorf("Flags = %v, want %s", s.Flags, FlagJudgeDisagreement)
		}
	})

	t.Run("not flagged at the threshold", func(t *testing.T) {
		m, _ := NewMultiJudge(staticJudge(0.5, 1), staticJudge(0.2, 1))
		s, err := m.Score(context.Background(), "", "")
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		for _, f := range s.Flags {
			if f == FlagJudgeDisagreement {
				t.Errorf("gap of exactly 0.3 must not flag, got %v", s.Flags)
			}
		}
	})
}

func TestMultiJudge_BackendErrorFailsCall(t *testing.T) {
	boom := errors.New("boom")
	failing := JudgeFunc(func(ctx context.Context, system, user string) (*Score, error) {
		return nil, boom
	})

	m, _ := NewMultiJudge(staticJudge(0.9, 1), failing)
	if _, err := m.Score(context.Background(), "", ""); !errors.Is(err, boom) {
		t.Errorf("Score error = %v, want wrapped boom", err)
	}
}

func TestNewMultiJudge_RequiresBothBackends(t *testing.T) {
	if _, err := NewMultiJudge(nil, staticJudge(1, 1)); err == nil {
		t.Error("NewMultiJudge(nil, j) succeeded")
	}
	if _, err := NewMultiJudge(staticJudge(1, 1), nil); err == nil {
		t.Error("NewMultiJudge(j, nil) succeeded")
	}
}

func TestAnthropicJudge_Score(t *testing.T) {
	var gotVersion, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		gotKey = r.Header.Get("x-api-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"content": [{"type": "text", "text": "{\"score\": 0.75, \"confidence\": 0.8, \"reasoning\": \"mostly on-canon\"}"}],
			"usage": {"input_tokens": 120, "output_tokens": 40}
		}`))
	}))
	defer srv.Close()

	j := NewAnthropicJudgeWithURL(srv.URL, "test-key", "test-model")
	s, err := j.Score(context.Background(), "system prompt", "user content")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if s.Score != 0.75 || s.Confidence != 0.8 {
		t.Errorf("score/confidence = %v/%v", s.Score, s.Confidence)
	}
	if s.TokenUsage.PromptTokens != 120 || s.TokenUsage.CompletionTokens != 40 {
		t.Errorf("token usage = %+v", s.TokenUsage)
	}
	if s.TokenUsage.Model != "test-model" {
		t.Errorf("model = %q", s.TokenUsage.Model)
	}
	if gotVersion != anthropicAPIVersion {
		t.Errorf("anthropic-version header = %q", gotVersion)
	}
	if gotKey != "test-key" {
		t.Errorf("x-api-key header = %q", gotKey)
	}
}

func TestAnthropicJudge_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"type": "rate_limit_error", "message": "slow down"}}`))
	}))
	defer srv.Close()

	j := NewAnthropicJudgeWithURL(srv.URL, "k", "m")
	_, err := j.Score(context.Background(), "", "content")
	if err == nil {
		t.Fatal("Score succeeded against a 429 response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error %v does not surface the status code", err)
	}
}

func TestAnthropicJudge_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "msg_1", "content": [], "usage": {}}`))
	}))
	defer srv.Close()

	j := NewAnthropicJudgeWithURL(srv.URL, "k", "m")
	if _, err := j.Score(context.Background(), "", "content"); err == nil {
		t.Fatal("Score succeeded on an empty content array")
	}
}

func TestRateLimitedJudge_CancelledContext(t *testing.T) {
	// Zero rate never admits; a cancelled context must unblock the wait.
	limited := NewRateLimitedJudge(staticJudge(1, 1), 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := limited.Score(ctx, "", ""); err == nil {
		t.Fatal("Score succeeded with a cancelled context and zero rate")
	}
}

func TestRateLimitedJudge_PassesThrough(t *testing.T) {
	limited := NewRateLimitedJudge(staticJudge(0.5, 0.5), 100, 10)
	s, err := limited.Score(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if s.Score != 0.5 {
		t.Errorf("Score = %v, want 0.5", s.Score)
	}
}
