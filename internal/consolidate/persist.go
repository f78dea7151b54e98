package consolidate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ppiankov/concord/internal/model"
)

// stateFile is the on-disk snapshot shape.
type stateFile struct {
	Version int                   `json:"version"`
	Facts   []model.CanonicalFact `json:"facts"`
}

// SaveFile writes the full fact set as JSON, so consolidation continues
// corpus-wide across process runs.
func (s *Store) SaveFile(path string) error {
	state := stateFile{Version: 1, Facts: s.Facts()}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fact state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write fact state: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadFile restores a saved fact set, reclassifying every fact under the
// given thresholds so stale maturity values never survive a config change.
// A missing file is an empty store, not an error.
func (s *Store) LoadFile(path string, cfg model.MaturityConfig) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read fact state: %w", err)
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return 0, fmt.Errorf("parse fact state: %w", err)
	}

	loaded := 0
	for i := range state.Facts {
		fact := state.Facts[i]
		if len(fact.Evidence) == 0 {
			// Zero-evidence facts violate the surviving-evidence
			// invariant; drop them on load rather than resurrecting.
			s.log.Warn("fact skipped on load: no evidence",
				"fact", fact.Key.ID(), "error", model.ErrInvariantViolation)
			continue
		}
		e := &factEntry{fact: fact}
		s.reclassify(&e.fact, cfg)
		s.mu.Lock()
		s.facts[fact.Key.ID()] = e
		s.mu.Unlock()
		loaded++
	}
	return loaded, nil
}
