// Package manifest handles lunette.toml run configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/chazu/lunette/vm"
)

// FileName is the name of the configuration file.
const FileName = "lunette.toml"

// Dump formats.
const (
	DumpText = "text"
	DumpCBOR = "cbor"
	DumpNone = "none"
)

// Manifest represents a lunette.toml configuration.
type Manifest struct {
	Run     RunConfig              `toml:"run"`
	Dump    DumpConfig             `toml:"dump"`
	Globals map[string]interface{} `toml:"globals"`

	// Dir is the directory containing the lunette.toml file (set at load time).
	Dir string `toml:"-"`
}

// RunConfig configures logging and source decoding.
type RunConfig struct {
	Verbosity      int    `toml:"verbosity"`
	LogFile        string `toml:"log-file"`
	SourceEncoding string `toml:"source-encoding"`
}

// DumpConfig configures the listing emitted before a program runs.
type DumpConfig struct {
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// Default returns the configuration used when no lunette.toml exists.
func Default() *Manifest {
	return &Manifest{
		Run:  RunConfig{Verbosity: -1},
		Dump: DumpConfig{Format: DumpText},
	}
}

// Load parses the lunette.toml file in the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a configuration file at an explicit path.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	// Defaults
	if m.Dump.Format == "" {
		m.Dump.Format = DumpText
	}

	switch m.Dump.Format {
	case DumpText, DumpCBOR, DumpNone:
	default:
		return nil, fmt.Errorf("%s: unknown dump format %q", path, m.Dump.Format)
	}
	if _, err := m.GlobalValues(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return m, nil
}

// FindAndLoad walks up from startDir to find a lunette.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
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

// Resolve returns p relative to the manifest directory unless it is
// absolute or empty.
func (m *Manifest) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// GlobalValues converts the [globals] table into VM values. Only strings,
// integers, floats and booleans are accepted.
func (m *Manifest) GlobalValues() (map[string]vm.Value, error) {
	names := make([]string, 0, len(m.Globals))
	for name := range m.Globals {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make(map[string]vm.Value, len(names))
	for _, name := range names {
		switch v := m.Globals[name].(type) {
		case string:
			values[name] = vm.FromString(v)
		case int64:
			values[name] = vm.FromInt(v)
		case float64:
			values[name] = vm.FromFloat(v)
		case bool:
			values[name] = vm.FromBool(v)
		default:
			return nil, fmt.Errorf("global %q: unsupported type %T", name, v)
		}
	}
	return values, nil
}
