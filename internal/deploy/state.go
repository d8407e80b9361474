package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// StateFile is the handoff record written between pipeline steps. It lives
// in the working directory so chained invocations (build, then push, then
// deploy) can pick up where the previous command stopped.
const StateFile = ".bia-state.json"

// ErrNoState means a chained command was run without the state its
// predecessor produces.
var ErrNoState = errors.New("no deployment state found")

// State is the minimal handoff record between steps of one deployment.
type State struct {
	Version     string `json:"version"`
	RegistryURI string `json:"registry_uri"`
	TaskDefARN  string `json:"task_def_arn,omitempty"`
}

// ImageRef is the fully qualified image reference for this deployment.
func (s *State) ImageRef() string {
	return s.RegistryURI + ":" + s.Version
}

// LoadState reads the handoff record from dir.
func LoadState(dir string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(dir, StateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("reading %s: %w", StateFile, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", StateFile, err)
	}
	if st.Version == "" || st.RegistryURI == "" {
		return nil, fmt.Errorf("parsing %s: incomplete record", StateFile)
	}
	return &st, nil
}

// SaveState writes the handoff record to dir, replacing any previous one.
func SaveState(dir string, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, StateFile), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", StateFile, err)
	}
	return nil
}

// ClearState removes the handoff record. Missing is fine.
func ClearState(dir string) error {
	err := os.Remove(filepath.Join(dir, StateFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", StateFile, err)
	}
	return nil
}
