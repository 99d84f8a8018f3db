// Package fundstate persists the two scheduler watermarks —
// last_fund_cycle_ms and last_gas_check_ms — via atomic temp-file +
// rename replacement, matching the addressbook's own persistence
// discipline.
package fundstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// State is fund-state.json's full shape.
type State struct {
	LastFundCycleMs uint64 `json:"last_fund_cycle"`
	LastGasCheckMs  uint64 `json:"last_gas_check"`
}

// Load reads path, returning a zero State (both watermarks at 0,
// meaning "never run") if the file does not yet exist.
func Load(path string) (State, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read fund-state %s: %w", path, err)
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, fmt.Errorf("parse fund-state %s: %w", path, err)
	}
	return s, nil
}

// Save writes s to path via a temp file in the same directory followed
// by an atomic rename, so readers never observe a partially written
// file.
func Save(path string, s State) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fund-state: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".fund-state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp fund-state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp fund-state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp fund-state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename fund-state into place: %w", err)
	}
	return nil
}
