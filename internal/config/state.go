package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// State is the mutable runtime state, kept apart from the operator-edited
// config. Today that is just the calibrated mount rotation.
type State struct {
	// RotationDeg is the panel's physical mounting rotation as determined
	// by calibration. Added to the per-image rotation on every update.
	RotationDeg int `yaml:"rotation_deg"`
}

// LoadState reads path. A missing file is not an error: it means the panel
// has never been calibrated and the zero rotation applies.
func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("config: read state %s: %w", path, err)
	}
	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("config: parse state %s: %w", path, err)
	}
	return st, nil
}

// SaveState writes the state atomically.
func SaveState(path string, st State) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("config: marshal state: %w", err)
	}
	return writeFileAtomic(path, data)
}
