// Package manifest handles repatch.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/repatch/compiler"
)

// FileName is the name of the project configuration file.
const FileName = "repatch.toml"

// DefaultAddr is the server listen address used when none is configured.
const DefaultAddr = "localhost:4567"

// Manifest represents a repatch.toml project configuration.
type Manifest struct {
	Project  Project        `toml:"project"`
	Compiler CompilerConfig `toml:"compiler"`
	Image    ImageConfig    `toml:"image"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`

	// Dir is the directory containing the repatch.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name string `toml:"name"`
}

// CompilerConfig configures the flags every compile starts from.
type CompilerConfig struct {
	Flags  []string `toml:"flags"`
	Output string   `toml:"output"`
}

// ImageConfig configures the process image started by run and serve.
type ImageConfig struct {
	// Preload lists object files installed at startup, relative to Dir.
	Preload   []string `toml:"preload"`
	Protected []string `toml:"protected"`
	MaxDepth  int      `toml:"max-depth"`
}

// ServerConfig configures the patch server.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no repatch.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

// Load parses a repatch.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a repatch.toml file,
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

func (m *Manifest) validate() error {
	if _, err := compiler.ParseFlags(strings.Join(m.Compiler.Flags, ",")); err != nil {
		return fmt.Errorf("[compiler] flags: %w", err)
	}
	if m.Image.MaxDepth < 0 {
		return fmt.Errorf("[image] max-depth must not be negative")
	}
	return nil
}

func (m *Manifest) applyDefaults() {
	if m.Server.Addr == "" {
		m.Server.Addr = DefaultAddr
	}
	if m.Compiler.Output == "" {
		m.Compiler.Output = "build"
	}
}

// CompileOptions returns the configured compile flags.
func (m *Manifest) CompileOptions() compiler.Options {
	opts, _ := compiler.ParseFlags(strings.Join(m.Compiler.Flags, ","))
	return opts
}

// OutputDir returns the absolute build output directory.
func (m *Manifest) OutputDir() string {
	return m.resolve(m.Compiler.Output)
}

// PreloadPaths returns absolute paths for the configured preload objects.
func (m *Manifest) PreloadPaths() []string {
	var paths []string
	for _, p := range m.Image.Preload {
		paths = append(paths, m.resolve(p))
	}
	return paths
}

// LogFile returns the absolute log file path, or nil for stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.resolve(m.Log.File)
	return &path
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
