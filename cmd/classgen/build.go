package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chazu/jclass/manifest"
	"github.com/chazu/jclass/pkg/bundle"
	"github.com/chazu/jclass/pkg/classfile"
	"github.com/chazu/jclass/pkg/listing"
	"github.com/chazu/jclass/pkg/store"
)

// builtClass is one class written by a build.
type builtClass struct {
	Name   string
	Source string
	Path   string
	Data   []byte
}

// build assembles every description file into the output directory, then
// writes the bundle and store if the manifest enables them. When listing
// is non-nil each class is read back and its description printed there.
func build(m *manifest.Manifest, files []string, listingOut io.Writer) ([]builtClass, error) {
	var built []builtClass
	seen := make(map[string]string)

	for _, file := range files {
		c, err := listing.LoadDescription(file)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[c.Name]; ok {
			return nil, fmt.Errorf("%s: class %s already defined in %s", file, c.Name, prev)
		}
		seen[c.Name] = file

		if c.Version == (classfile.Version{}) {
			c.Version = classfile.Version{Major: m.Target.Major, Minor: m.Target.Minor}
		}
		f, err := classfile.Assemble(c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		data, err := f.Bytes()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}

		path := m.ClassFilePath(c.Name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating output dir: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
		built = append(built, builtClass{Name: c.Name, Source: file, Path: path, Data: data})

		if listingOut != nil {
			if err := describe(listingOut, data); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
	}

	if p := m.BundlePath(); p != "" {
		if err := writeBundle(p, built); err != nil {
			return nil, err
		}
	}
	if p := m.StorePath(); p != "" {
		if err := storeClasses(p, built); err != nil {
			return nil, err
		}
	}
	return built, nil
}

func writeBundle(path string, built []builtClass) error {
	b := bundle.New()
	for _, c := range built {
		if err := b.Add(c.Name, c.Data); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating bundle dir: %w", err)
	}
	return bundle.WriteFile(path, b)
}

func storeClasses(path string, built []builtClass) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating store dir: %w", err)
	}
	s, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer s.Close()
	for _, c := range built {
		if _, err := s.Put(c.Name, c.Data); err != nil {
			return err
		}
	}
	return nil
}

// describe decodes class file bytes and writes the class description.
func describe(w io.Writer, data []byte) error {
	f, err := classfile.Parse(data)
	if err != nil {
		return err
	}
	c, err := classfile.Decode(f)
	if err != nil {
		return err
	}
	text, err := listing.FormatDescription(c)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "# %s\n%s\n", c.Name, text)
	return err
}
