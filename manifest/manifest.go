// Package manifest handles numexpr.toml engine configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/mindw/numexpr/vm"
)

// Manifest represents a numexpr.toml engine configuration.
type Manifest struct {
	Engine EngineConfig `toml:"engine"`

	// Dir is the directory containing the numexpr.toml file (set at load time).
	Dir string `toml:"-"`
}

// EngineConfig configures evaluation.
type EngineConfig struct {
	BlockSize   int  `toml:"block-size"`
	Threads     int  `toml:"threads"`
	ForceSerial bool `toml:"force-serial"`
}

// Options converts the configuration into engine options. Zero values keep
// the engine defaults.
func (m *Manifest) Options() vm.Options {
	return vm.Options{
		BlockSize:   m.Engine.BlockSize,
		Threads:     m.Engine.Threads,
		ForceSerial: m.Engine.ForceSerial,
	}
}

// Load parses a numexpr.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "numexpr.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Engine.BlockSize < 0 {
		return nil, fmt.Errorf("invalid block-size %d in %s", m.Engine.BlockSize, path)
	}
	if m.Engine.Threads < 0 {
		return nil, fmt.Errorf("invalid threads %d in %s", m.Engine.Threads, path)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a numexpr.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "numexpr.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}
