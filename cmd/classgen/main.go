// classgen assembles TOML class descriptions into JVM class files.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/jclass/manifest"
	"github.com/chazu/jclass/pkg/bundle"
	"github.com/chazu/jclass/pkg/store"
)

func main() {
	projectDir := flag.String("C", ".", "Project directory (searched upward for classgen.toml)")
	outputDir := flag.String("o", "", "Output directory (overrides [output] dir)")
	bundlePath := flag.String("bundle", "", "Also write a CBOR bundle to this path")
	storePath := flag.String("store", "", "Also store classes in this sqlite database")
	showListing := flag.Bool("listing", false, "Print the description of every class written")
	major := flag.Int("major", 0, "Target class-file major version (overrides [target] major)")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides [log] verbosity)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: classgen [options] [files...]\n")
		fmt.Fprintf(os.Stderr, "       classgen disasm <file.class>...\n")
		fmt.Fprintf(os.Stderr, "       classgen ls <bundle.cbor | store.db>\n\n")
		fmt.Fprintf(os.Stderr, "Assembles *.class.toml descriptions into class files. With no files,\n")
		fmt.Fprintf(os.Stderr, "every description under the manifest's source dirs is built.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  classgen                          # Build the project in .\n")
		fmt.Fprintf(os.Stderr, "  classgen -o out Hello.class.toml  # Build one description into out/\n")
		fmt.Fprintf(os.Stderr, "  classgen disasm out/Hello.class   # Print a class as a description\n")
	}
	flag.Parse()

	m, err := manifest.FindAndLoad(*projectDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default(*projectDir)
	}
	// Paths given on the command line are relative to the working directory.
	if *outputDir != "" {
		m.Output.Dir = absPath(*outputDir)
	}
	if *bundlePath != "" {
		m.Output.Bundle = absPath(*bundlePath)
	}
	if *storePath != "" {
		m.Output.Store = absPath(*storePath)
	}
	if *showListing {
		m.Output.Listing = true
	}
	if *major != 0 {
		if err := manifest.CheckMajor(*major); err != nil {
			fmt.Fprintf(os.Stderr, "Error: -major: %v\n", err)
			os.Exit(1)
		}
		m.Target.Major = uint16(*major)
	}
	if *verbosity >= 0 {
		m.Log.Verbosity = *verbosity
	}
	commonlog.Configure(m.Log.Verbosity, nil)

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "disasm":
			os.Exit(runDisasm(args[1:]))
		case "ls":
			os.Exit(runList(args[1:]))
		}
	}

	files := args
	if len(files) == 0 {
		if files, err = m.Descriptions(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(files) == 0 {
			fmt.Fprintf(os.Stderr, "No %s files found in %v\n", manifest.DescriptionSuffix, m.Source.Dirs)
			os.Exit(1)
		}
	}

	var listingOut io.Writer
	if m.Output.Listing {
		listingOut = os.Stdout
	}
	built, err := build(m, files, listingOut)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if m.Log.Verbosity > 0 {
		for _, c := range built {
			fmt.Fprintf(os.Stderr, "%s -> %s (%d bytes)\n", c.Source, c.Path, len(c.Data))
		}
	}
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func runDisasm(paths []string) int {
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "Error: disasm requires at least one class file")
		return 1
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if err := describe(os.Stdout, data); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", path, err)
			return 1
		}
	}
	return 0
}

func runList(paths []string) int {
	if len(paths) != 1 {
		fmt.Fprintln(os.Stderr, "Error: ls requires one bundle or store path")
		return 1
	}
	names, err := listNames(paths[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return 0
}

// listNames returns the class names in a bundle (*.cbor) or a store.
func listNames(path string) ([]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if filepath.Ext(path) == ".cbor" {
		b, err := bundle.ReadFile(path)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(b.Classes))
		for i, c := range b.Classes {
			names[i] = c.Name
		}
		return names, nil
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Names()
}
