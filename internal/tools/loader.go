package tools

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenArmCore/internal/motion"
	"gopkg.in/yaml.v3"
)

var extensions = []string{".yaml", ".yml"}

// Profile is one tool profile file.
type Profile struct {
	motion.ToolConfig `yaml:",inline"`
	Description       string `yaml:"description,omitempty" json:"description,omitempty"`
	Source            string `yaml:"-" json:"source"`
}

type ProfileLoader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewProfileLoader(searchPaths []string) (*ProfileLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &ProfileLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load finds <name>.yaml or <name>.yml in the search paths, first match wins.
func (l *ProfileLoader) Load(name string) (*Profile, error) {
	if cached, ok := l.cache.Load(name); ok {
		return cached.(*Profile), nil
	}

	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid tool profile name %q", name)
	}

	for _, searchPath := range l.searchPaths {
		for _, ext := range extensions {
			fullPath := filepath.Join(searchPath, name+ext)
			data, err := os.ReadFile(fullPath)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", fullPath, err)
			}

			profile, err := l.Parse(data)
			if err != nil {
				return nil, fmt.Errorf("tool profile %s: %w", fullPath, err)
			}
			if profile.Name != name {
				return nil, fmt.Errorf("tool profile %s: name %q does not match file name", fullPath, profile.Name)
			}
			profile.Source = fullPath

			l.cache.Store(name, profile)
			return profile, nil
		}
	}

	return nil, fmt.Errorf("tool profile not found: %s (searched in: %v)", name, l.searchPaths)
}

// Parse validates and decodes a single profile document.
func (l *ProfileLoader) Parse(data []byte) (*Profile, error) {
	if err := l.validator.ValidateProfile(data); err != nil {
		return nil, err
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	for _, v := range append(profile.TCP.Position[:], profile.TCP.Rotation[:]...) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("tcp must be finite")
		}
	}
	return &profile, nil
}

// List returns the names of all profiles in the search paths.
// Earlier search paths shadow later ones.
func (l *ProfileLoader) List() ([]string, error) {
	seen := make(map[string]bool)
	for _, searchPath := range l.searchPaths {
		entries, err := os.ReadDir(searchPath)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", searchPath, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := filepath.Ext(e.Name())
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			seen[strings.TrimSuffix(e.Name(), ext)] = true
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (l *ProfileLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
