package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/toruai/steering-plugins/internal/errs"
)

// configFileName is the persisted enabled-state file (spec.md §6).
const configFileName = "config.json"

// PersistentState is the on-disk shape of config.json: {"plugins": {"<id>": bool}}.
type PersistentState struct {
	Plugins map[string]bool `json:"plugins"`
}

// StateFile manages atomic reads/writes of config.json under metadataDir
// (<plugins_dir>/.metadata per spec.md §6).
type StateFile struct {
	path string
}

// NewStateFile returns a StateFile rooted at metadataDir/config.json.
func NewStateFile(metadataDir string) *StateFile {
	return &StateFile{path: filepath.Join(metadataDir, configFileName)}
}

// Load reads config.json, returning an empty PersistentState if the file
// does not yet exist (spec.md §8 scenario 1: empty plugins directory).
func (f *StateFile) Load() (PersistentState, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return PersistentState{Plugins: map[string]bool{}}, nil
	}
	if err != nil {
		return PersistentState{}, errs.Wrap(errs.StorageError, "", "failed to read config.json", err)
	}
	var state PersistentState
	if err := json.Unmarshal(data, &state); err != nil {
		return PersistentState{}, errs.Wrap(errs.StorageError, "", "failed to parse config.json", err)
	}
	if state.Plugins == nil {
		state.Plugins = map[string]bool{}
	}
	return state, nil
}

// Save atomically rewrites config.json: write to a temp file in the same
// directory, then rename over the target, so a crash mid-write never
// leaves a truncated config.json behind.
func (f *StateFile) Save(state PersistentState) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errs.Wrap(errs.StorageError, "", "failed to create metadata dir", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errs.Wrap(errs.StorageError, "", "failed to marshal config.json", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), configFileName+".tmp-*")
	if err != nil {
		return errs.Wrap(errs.StorageError, "", "failed to create temp config file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.StorageError, "", "failed to write temp config file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.StorageError, "", "failed to close temp config file", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.StorageError, "", "failed to rename temp config file", err)
	}
	return nil
}

// SetEnabled is a convenience wrapper: load, mutate one key, save.
func (f *StateFile) SetEnabled(id string, enabled bool) error {
	state, err := f.Load()
	if err != nil {
		return err
	}
	state.Plugins[id] = enabled
	return f.Save(state)
}
