// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/storage"
)

// Key prefixes. Index keys embed a reverse timestamp so an ascending
// prefix scan yields most-recent-first ordering.
const (
	prefixSpecVersion   = "spec:v:"   // spec:v:<characterID>:<versionID>
	prefixCritic        = "critic:"   // critic:<criticID>
	prefixConfig        = "cfg:"      // cfg:<orgID>:<configID>
	prefixRun           = "run:"      // run:<runID>
	prefixRunCompleted  = "runc:"     // runc:<characterID>:<revTS>:<runID>
	prefixVerdict       = "verd:"     // verd:<runID>:<verdictID>
	prefixResult        = "res:"      // res:<runID>
	prefixBaseline      = "base:"     // base:<characterID>:<criticID>
	prefixDriftEvent    = "drifte:"   // drifte:<eventID>
	prefixDriftEventIdx = "driftc:"   // driftc:<characterID>:<revTS>:<eventID>
	prefixExperiment    = "exp:"      // exp:<experimentID>
	prefixTrial         = "trial:"    // trial:<experimentID>:<ts>:<trialID>
)

// Store implements every storage interface on one BadgerDB instance.
//
// Thread Safety: Safe for concurrent use; Badger transactions provide
// snapshot isolation. Run updates and baseline replaces rely on the
// engine's single-writer assumption rather than on conflict retries.
type Store struct {
	db *badger.DB
}

// Interface conformance.
var (
	_ storage.SpecStore       = (*Store)(nil)
	_ storage.CriticStore     = (*Store)(nil)
	_ storage.RunStore        = (*Store)(nil)
	_ storage.VerdictStore    = (*Store)(nil)
	_ storage.ResultStore     = (*Store)(nil)
	_ storage.DriftStore      = (*Store)(nil)
	_ storage.ExperimentStore = (*Store)(nil)
)

// NewStore wraps an opened BadgerDB.
func NewStore(db *badger.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	return &Store{db: db}, nil
}

// -----------------------------------------------------------------------------
// Spec Versions
// -----------------------------------------------------------------------------

// GetActiveVersion implements storage.SpecStore.
func (s *Store) GetActiveVersion(_ context.Context, characterID string) (*datatypes.CharacterSpecVersion, error) {
	var active *datatypes.CharacterSpecVersion
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixSpecVersion+characterID+":", func(val []byte) error {
			found = true
			var v datatypes.CharacterSpecVersion
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			if v.Active {
				active = &v
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("character %s: %w", characterID, storage.ErrNotFound)
	}
	if active == nil {
		return nil, fmt.Errorf("character %s: %w", characterID, storage.ErrNoActiveVersion)
	}
	return active, nil
}

// PutVersion implements storage.SpecStore. Storing an active version
// deactivates any prior active version for the same character.
func (s *Store) PutVersion(_ context.Context, v *datatypes.CharacterSpecVersion) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if v.Active {
			prefix := prefixSpecVersion + v.CharacterID + ":"
			var toDeactivate []datatypes.CharacterSpecVersion
			if err := scanPrefix(txn, prefix, func(val []byte) error {
				var prev datatypes.CharacterSpecVersion
				if err := json.Unmarshal(val, &prev); err != nil {
					return err
				}
				if prev.Active && prev.ID != v.ID {
					prev.Active = false
					toDeactivate = append(toDeactivate, prev)
				}
				return nil
			}); err != nil {
				return err
			}
			for i := range toDeactivate {
				if err := setJSON(txn, prefix+toDeactivate[i].ID, &toDeactivate[i]); err != nil {
					return err
				}
			}
		}
		return setJSON(txn, prefixSpecVersion+v.CharacterID+":"+v.ID, v)
	})
}

// -----------------------------------------------------------------------------
// Critics and Configurations
// -----------------------------------------------------------------------------

// ListCritics implements storage.CriticStore: org-owned plus global.
func (s *Store) ListCritics(_ context.Context, orgID string) ([]datatypes.Critic, error) {
	var out []datatypes.Critic
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixCritic, func(val []byte) error {
			var c datatypes.Critic
			if err := json.Unmarshal(val, &c); err != nil {
				return err
			}
			if c.OrgID == "" || c.OrgID == orgID {
				out = append(out, c)
			}
			return nil
		})
	})
	return out, err
}

// GetCritic implements storage.CriticStore.
func (s *Store) GetCritic(_ context.Context, criticID string) (*datatypes.Critic, error) {
	var c datatypes.Critic
	if err := s.getJSON(prefixCritic+criticID, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConfigurations implements storage.CriticStore.
func (s *Store) ListConfigurations(_ context.Context, orgID string) ([]datatypes.CriticConfiguration, error) {
	var out []datatypes.CriticConfiguration
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixConfig+orgID+":", func(val []byte) error {
			var cfg datatypes.CriticConfiguration
			if err := json.Unmarshal(val, &cfg); err != nil {
				return err
			}
			out = append(out, cfg)
			return nil
		})
	})
	return out, err
}

// PutCritic implements storage.CriticStore.
func (s *Store) PutCritic(_ context.Context, c *datatypes.Critic) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, prefixCritic+c.ID, c)
	})
}

// PutConfiguration implements storage.CriticStore.
func (s *Store) PutConfiguration(_ context.Context, cfg *datatypes.CriticConfiguration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, prefixConfig+cfg.OrgID+":"+cfg.ID, cfg)
	})
}

// -----------------------------------------------------------------------------
// Runs
// -----------------------------------------------------------------------------

// CreateRun implements storage.RunStore.
func (s *Store) CreateRun(_ context.Context, run *datatypes.EvaluationRun) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, prefixRun+run.ID, run)
	})
}

// UpdateRun implements storage.RunStore. A run reaching completed
// status also gains its time-ordered index entry.
func (s *Store) UpdateRun(_ context.Context, run *datatypes.EvaluationRun) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, prefixRun+run.ID, run); err != nil {
			return err
		}
		if run.Status == datatypes.RunCompleted {
			ts := run.CompletedAt
			if ts.IsZero() {
				ts = run.CreatedAt
			}
			key := prefixRunCompleted + run.CharacterID + ":" + revTS(ts) + ":" + run.ID
			return txn.Set([]byte(key), []byte(run.ID))
		}
		return nil
	})
}

// GetRun implements storage.RunStore.
func (s *Store) GetRun(_ context.Context, runID string) (*datatypes.EvaluationRun, error) {
	var run datatypes.EvaluationRun
	if err := s.getJSON(prefixRun+runID, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListCompletedRuns implements storage.RunStore, most recent first.
func (s *Store) ListCompletedRuns(_ context.Context, characterID string, limit int) ([]datatypes.EvaluationRun, error) {
	var out []datatypes.EvaluationRun
	err := s.db.View(func(txn *badger.Txn) error {
		seen := make(map[string]struct{})
		prefix := []byte(prefixRunCompleted + characterID + ":")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var runID string
			if err := it.Item().Value(func(val []byte) error {
				runID = string(val)
				return nil
			}); err != nil {
				return err
			}
			if _, dup := seen[runID]; dup {
				continue
			}
			seen[runID] = struct{}{}

			item, err := txn.Get([]byte(prefixRun + runID))
			if err != nil {
				return err
			}
			var run datatypes.EvaluationRun
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			}); err != nil {
				return err
			}
			out = append(out, run)
		}
		return nil
	})
	return out, err
}

// -----------------------------------------------------------------------------
// Verdicts and Results
// -----------------------------------------------------------------------------

// AppendVerdicts implements storage.VerdictStore.
func (s *Store) AppendVerdicts(_ context.Context, verdicts []datatypes.CriticVerdict) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for i := range verdicts {
			v := &verdicts[i]
			if err := setJSON(txn, prefixVerdict+v.RunID+":"+v.ID, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListVerdicts implements storage.VerdictStore.
func (s *Store) ListVerdicts(_ context.Context, runID string) ([]datatypes.CriticVerdict, error) {
	var out []datatypes.CriticVerdict
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixVerdict+runID+":", func(val []byte) error {
			var v datatypes.CriticVerdict
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			out = append(out, v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PutResult implements storage.ResultStore.
func (s *Store) PutResult(_ context.Context, result *datatypes.EvaluationResult) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, prefixResult+result.RunID, result)
	})
}

// GetResult implements storage.ResultStore.
func (s *Store) GetResult(_ context.Context, runID string) (*datatypes.EvaluationResult, error) {
	var r datatypes.EvaluationResult
	if err := s.getJSON(prefixResult+runID, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// -----------------------------------------------------------------------------
// Drift
// -----------------------------------------------------------------------------

// PutBaseline implements storage.DriftStore: full replace per
// (character, critic).
func (s *Store) PutBaseline(_ context.Context, b *datatypes.DriftBaseline) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, prefixBaseline+b.CharacterID+":"+b.CriticID, b)
	})
}

// GetBaseline implements storage.DriftStore.
func (s *Store) GetBaseline(_ context.Context, characterID, criticID string) (*datatypes.DriftBaseline, error) {
	var b datatypes.DriftBaseline
	if err := s.getJSON(prefixBaseline+characterID+":"+criticID, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBaselines implements storage.DriftStore.
func (s *Store) ListBaselines(_ context.Context, characterID string) ([]datatypes.DriftBaseline, error) {
	var out []datatypes.DriftBaseline
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixBaseline+characterID+":", func(val []byte) error {
			var b datatypes.DriftBaseline
			if err := json.Unmarshal(val, &b); err != nil {
				return err
			}
			out = append(out, b)
			return nil
		})
	})
	return out, err
}

// AppendDriftEvent implements storage.DriftStore. The record lives
// under its id; a per-character index key provides time ordering.
func (s *Store) AppendDriftEvent(_ context.Context, e *datatypes.DriftEvent) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, prefixDriftEvent+e.ID, e); err != nil {
			return err
		}
		key := prefixDriftEventIdx + e.CharacterID + ":" + revTS(e.DetectedAt) + ":" + e.ID
		return txn.Set([]byte(key), []byte(e.ID))
	})
}

// ListDriftEvents implements storage.DriftStore, most recent first.
func (s *Store) ListDriftEvents(_ context.Context, characterID string, limit int) ([]datatypes.DriftEvent, error) {
	var out []datatypes.DriftEvent
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixDriftEventIdx + characterID + ":")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var eventID string
			if err := it.Item().Value(func(val []byte) error {
				eventID = string(val)
				return nil
			}); err != nil {
				return err
			}
			item, err := txn.Get([]byte(prefixDriftEvent + eventID))
			if err != nil {
				return err
			}
			var e datatypes.DriftEvent
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// AckDriftEvent implements storage.DriftStore.
func (s *Store) AckDriftEvent(_ context.Context, eventID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixDriftEvent + eventID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("drift event %s: %w", eventID, storage.ErrNotFound)
		}
		if err != nil {
			return err
		}
		var e datatypes.DriftEvent
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		}); err != nil {
			return err
		}
		e.Acknowledged = true
		return setJSON(txn, prefixDriftEvent+eventID, &e)
	})
}

// -----------------------------------------------------------------------------
// Experiments
// -----------------------------------------------------------------------------

// PutExperiment implements storage.ExperimentStore.
func (s *Store) PutExperiment(_ context.Context, e *datatypes.Experiment) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, prefixExperiment+e.ID, e)
	})
}

// GetExperiment implements storage.ExperimentStore.
func (s *Store) GetExperiment(_ context.Context, experimentID string) (*datatypes.Experiment, error) {
	var e datatypes.Experiment
	if err := s.getJSON(prefixExperiment+experimentID, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// AppendTrial implements storage.ExperimentStore.
func (s *Store) AppendTrial(_ context.Context, t *datatypes.TrialRun) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := prefixTrial + t.ExperimentID + ":" + fwdTS(t.AddedAt) + ":" + t.ID
		return setJSON(txn, key, t)
	})
}

// ListTrials implements storage.ExperimentStore, oldest first.
func (s *Store) ListTrials(_ context.Context, experimentID string) ([]datatypes.TrialRun, error) {
	var out []datatypes.TrialRun
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixTrial+experimentID+":", func(val []byte) error {
			var t datatypes.TrialRun
			if err := json.Unmarshal(val, &t); err != nil {
				return err
			}
			out = append(out, t)
			return nil
		})
	})
	return out, err
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// scanPrefix iterates every value under a key prefix in key order.
func scanPrefix(txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	p := []byte(prefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = p
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

func (s *Store) getJSON(key string, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

// revTS renders a reverse timestamp: later times sort earlier, so an
// ascending scan yields most recent first.
func revTS(t time.Time) string {
	return fmt.Sprintf("%020d", math.MaxInt64-t.UnixNano())
}

// fwdTS renders a forward timestamp for oldest-first ordering.
func fwdTS(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixNano())
}
