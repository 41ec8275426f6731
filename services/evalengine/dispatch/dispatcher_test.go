// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
	"github.com/s220284/canonsafe-v2-sub000/services/judge"
)

func itemsFor(criticIDs ...string) []WorkItem {
	items := make([]WorkItem, len(criticIDs))
	for i, id := range criticIDs {
		items[i] = WorkItem{
			Critic: datatypes.ResolvedCritic{
				Critic: datatypes.Critic{ID: id, CapabilityRef: "test", Template: "{{content}}"},
				Weight: 1.0,
			},
			SystemPrompt: "score this",
			UserPrompt:   "content",
		}
	}
	return items
}

func scoringJudge(score float64) judge.Judge {
	return judge.JudgeFunc(func(ctx context.Context, system, user string) (*judge.Score, error) {
		return &judge.Score{Score: score, Confidence: 0.9, Reasoning: "ok"}, nil
	})
}

func failingJudge(err error) judge.Judge {
	return judge.JudgeFunc(func(ctx context.Context, system, user string) (*judge.Score, error) {
		return nil, err
	})
}

func TestDispatch_OneVerdictPerItemInOrder(t *testing.T) {
	d, err := New(StaticProvider{Judge: scoringJudge(0.8)}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	items := itemsFor("c1", "c2", "c3")
	verdicts := d.Dispatch(context.Background(), "run-1", items)

	if len(verdicts) != len(items) {
		t.Fatalf("got %d verdicts for %d items", len(verdicts), len(items))
	}
	for i, v := range verdicts {
		if v.CriticID != items[i].Critic.Critic.ID {
			t.Errorf("verdict %d critic = %s, want %s", i, v.CriticID, items[i].Critic.Critic.ID)
		}
		if v.RunID != "run-1" {
			t.Errorf("verdict %d run = %s, want run-1", i, v.RunID)
		}
		if v.Score != 0.8 {
			t.Errorf("verdict %d score = %v, want 0.8", i, v.Score)
		}
		if v.ID == "" {
			t.Errorf("verdict %d missing id", i)
		}
	}
}

func TestDispatch_FailureDegradesWithoutShrinkingBatch(t *testing.T) {
	provider := MapProvider{
		"good": scoringJudge(0.9),
		"bad":  failingJudge(errors.New("upstream 500")),
	}
	d, err := New(provider, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	items := itemsFor("c1", "c2")
	items[1].Critic.Critic.CapabilityRef = "bad"
	items[0].Critic.Critic.CapabilityRef = "good"

	verdicts := d.Dispatch(context.Background(), "run-1", items)

	if len(verdicts) != 2 {
		t.Fatalf("got %d verdicts, want 2", len(verdicts))
	}
	if verdicts[0].Score != 0.9 {
		t.Errorf("healthy verdict score = %v, want 0.9", verdicts[0].Score)
	}

	degraded := verdicts[1]
	if degraded.Score != 0.0 || degraded.Confidence != 0.0 {
		t.Errorf("degraded verdict score/confidence = %v/%v, want 0/0",
			degraded.Score, degraded.Confidence)
	}
	if len(degraded.Flags) != 1 || degraded.Flags[0] != FlagCriticError {
		t.Errorf("degraded verdict flags = %v, want [%s]", degraded.Flags, FlagCriticError)
	}
	if degraded.Reasoning == "" {
		t.Error("degraded verdict must carry the error text as reasoning")
	}
}

func TestDispatch_UnknownCapabilityDegrades(t *testing.T) {
	d, err := New(MapProvider{}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	verdicts := d.Dispatch(context.Background(), "run-1", itemsFor("c1"))
	if len(verdicts) != 1 {
		t.Fatalf("got %d verdicts, want 1", len(verdicts))
	}
	if len(verdicts[0].Flags) != 1 || verdicts[0].Flags[0] != FlagCriticError {
		t.Errorf("flags = %v, want [%s]", verdicts[0].Flags, FlagCriticError)
	}
}

func TestDispatch_TimeoutDegrades(t *testing.T) {
	slow := judge.JudgeFunc(func(ctx context.Context, system, user string) (*judge.Score, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &judge.Score{Score: 1.0}, nil
		}
	})
	d, err := New(StaticProvider{Judge: slow}, Config{JudgeTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	verdicts := d.Dispatch(context.Background(), "run-1", itemsFor("c1"))
	if len(verdicts[0].Flags) != 1 || verdicts[0].Flags[0] != FlagCriticError {
		t.Errorf("timed-out call must degrade, got flags %v", verdicts[0].Flags)
	}
}

func TestDispatch_BoundsParallelism(t *testing.T) {
	var inflight, peak int64
	var mu sync.Mutex

	gated := judge.JudgeFunc(func(ctx context.Context, system, user string) (*judge.Score, error) {
		n := atomic.AddInt64(&inflight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&inflight, -1)
		return &judge.Score{Score: 0.5}, nil
	})

	d, err := New(StaticProvider{Judge: gated}, Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	items := itemsFor("c1", "c2", "c3", "c4", "c5", "c6")
	verdicts := d.Dispatch(context.Background(), "run-1", items)

	if len(verdicts) != len(items) {
		t.Fatalf("got %d verdicts, want %d", len(verdicts), len(items))
	}
	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak in-flight calls = %d, want <= 2", peak)
	}
}

func TestDispatch_CancelledContextStillFillsBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := New(StaticProvider{Judge: scoringJudge(0.7)}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	verdicts := d.Dispatch(ctx, "run-1", itemsFor("c1", "c2", "c3"))
	if len(verdicts) != 3 {
		t.Fatalf("got %d verdicts, want 3", len(verdicts))
	}
}

func TestBuildWorkItems_AssemblesPrompts(t *testing.T) {
	spec := &datatypes.CharacterSpecVersion{
		ID:          "v1",
		CharacterID: "char-1",
		Packs: map[string]map[string]any{
			datatypes.PackCanon: {"era": "golden age"},
		},
	}
	critics := []datatypes.ResolvedCritic{{
		Critic: datatypes.Critic{ID: "c1", Template: "Canon: {{canon}} / {{content}}"},
		Weight: 1.0,
	}}

	items := BuildWorkItems(critics, spec, "the content")
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].UserPrompt != "the content" {
		t.Errorf("UserPrompt = %q", items[0].UserPrompt)
	}
	if items[0].SystemPrompt == critics[0].Critic.Template {
		t.Error("SystemPrompt was not assembled from the template")
	}
}

func TestNew_NilProvider(t *testing.T) {
	if _, err := New(nil, Config{}); !errors.Is(err, ErrNilJudge) {
		t.Errorf("New(nil) error = %v, want ErrNilJudge", err)
	}
}
