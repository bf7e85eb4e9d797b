// Package manifest handles classgen.toml project configuration.
package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the project configuration file.
const FileName = "classgen.toml"

// DescriptionSuffix marks class description files in source directories.
const DescriptionSuffix = ".class.toml"

// Manifest represents a classgen.toml project configuration.
type Manifest struct {
	Target Target    `toml:"target"`
	Output Output    `toml:"output"`
	Source Source    `toml:"source"`
	Log    LogConfig `toml:"log"`

	// Dir is the directory containing the classgen.toml file (set at load time).
	Dir string `toml:"-"`
}

// Target is the class-file version to emit.
type Target struct {
	Major uint16 `toml:"major"`
	Minor uint16 `toml:"minor"`
}

// Output configures where assembled classes go.
type Output struct {
	Dir     string `toml:"dir"`
	Bundle  string `toml:"bundle"`
	Store   string `toml:"store"`
	Listing bool   `toml:"listing"`
}

// Source configures description file locations.
type Source struct {
	Dirs []string `toml:"dirs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int `toml:"verbosity"`
}

// Default returns the configuration used when there is no classgen.toml.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Target.Major == 0 {
		m.Target.Major = 52
	}
	if m.Output.Dir == "" {
		m.Output.Dir = filepath.Join("build", "classes")
	}
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"classes"}
	}
}

// Load parses a classgen.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
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

	m.applyDefaults()
	if err := CheckMajor(int(m.Target.Major)); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &m, nil
}

// CheckMajor reports whether major is a class-file major version the
// assembler can target.
func CheckMajor(major int) error {
	if major < 45 {
		return fmt.Errorf("target major version %d is below 45", major)
	}
	if major > 0xFFFF {
		return fmt.Errorf("target major version %d does not fit in 16 bits", major)
	}
	return nil
}

// FindAndLoad walks up from startDir to find a classgen.toml file,
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

// resolve makes p absolute relative to the manifest directory.
func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, m.resolve(d))
	}
	return paths
}

// OutputDir returns the absolute output directory.
func (m *Manifest) OutputDir() string {
	return m.resolve(m.Output.Dir)
}

// BundlePath returns the absolute bundle path, or "" if bundling is off.
func (m *Manifest) BundlePath() string {
	return m.resolve(m.Output.Bundle)
}

// StorePath returns the absolute store path, or "" if the store is off.
func (m *Manifest) StorePath() string {
	return m.resolve(m.Output.Store)
}

// ClassFilePath returns where the class with the given internal name is
// written: a/b/C becomes <output>/a/b/C.class.
func (m *Manifest) ClassFilePath(name string) string {
	return filepath.Join(m.OutputDir(), filepath.FromSlash(name)+".class")
}

// Descriptions returns every class description file under the source
// directories, sorted. Missing source directories are skipped.
func (m *Manifest) Descriptions() ([]string, error) {
	var files []string
	for _, dir := range m.SourceDirPaths() {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == dir && os.IsNotExist(err) {
					return fs.SkipDir
				}
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), DescriptionSuffix) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
	}
	sort.Strings(files)
	return files, nil
}
