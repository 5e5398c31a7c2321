// Package profile holds the dispense profiles that tuning results are
// written into. Profiles live in a YAML file edited by the operator; the
// engine only ever borrows a profile long enough to read a warm-start
// seed or copy in recommended gains, and the caller persists afterwards.
package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MaxProfiles matches the device firmware's profile slots.
const MaxProfiles = 8

// AnyProfile selects records from all profiles in history queries.
const AnyProfile = -1

type Profile struct {
	Index        int     `yaml:"index"`
	Name         string  `yaml:"name"`
	TargetWeight float64 `yaml:"target_weight"`

	CoarseKP float64 `yaml:"coarse_kp"`
	CoarseKD float64 `yaml:"coarse_kd"`
	FineKP   float64 `yaml:"fine_kp"`
	FineKD   float64 `yaml:"fine_kd"`
}

// Store is a YAML-file-backed profile collection.
type Store struct {
	path     string
	profiles []*Profile
}

// Load reads profiles from path. A missing file yields a store with a
// single default profile so first boot works without setup.
func Load(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.profiles = []*Profile{{Index: 0, Name: "default", TargetWeight: 45.0}}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}

	var doc struct {
		Profiles []*Profile `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	if len(doc.Profiles) == 0 {
		return nil, fmt.Errorf("profiles file %s contains no profiles", path)
	}
	if len(doc.Profiles) > MaxProfiles {
		return nil, fmt.Errorf("profiles file %s exceeds %d slots", path, MaxProfiles)
	}

	s.profiles = doc.Profiles
	return s, nil
}

// Save writes the current profiles back to the store's file.
func (s *Store) Save() error {
	doc := struct {
		Profiles []*Profile `yaml:"profiles"`
	}{Profiles: s.profiles}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal profiles: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit profiles: %w", err)
	}
	return nil
}

// Select returns the profile at idx, or nil when out of range.
func (s *Store) Select(idx int) *Profile {
	for _, p := range s.profiles {
		if p.Index == idx {
			return p
		}
	}
	return nil
}

// All returns the loaded profiles.
func (s *Store) All() []*Profile {
	return s.profiles
}
