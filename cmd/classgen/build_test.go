package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/jclass/manifest"
	"github.com/chazu/jclass/pkg/bundle"
	"github.com/chazu/jclass/pkg/classfile"
	"github.com/chazu/jclass/pkg/store"
)

const counterDescription = `
name = "demo/Counter"
access = ["public", "super"]
source-file = "Counter.java"

[[fields]]
name = "LIMIT"
descriptor = "I"
access = ["public", "static", "final"]
constant = 3

[[methods]]
name = "<init>"
descriptor = "()V"
access = ["public"]
code = """
    aload 0
    invokespecial java/lang/Object.<init> ()V
    return
"""

[[methods]]
name = "count"
descriptor = "()I"
access = ["public", "static"]
code = """
    iconst_0
    istore 0
loop:
    iload 0
    iconst_3
    if_icmpge done
    iinc 0 1
    goto loop
done:
    iload 0
    ireturn
"""
`

const otherDescription = `
name = "demo/Other"
super = "java/lang/Object"
access = ["public", "super", "abstract"]
version = { major = 49, minor = 0 }

[[methods]]
name = "run"
descriptor = "()V"
access = ["public", "abstract"]
`

func writeProject(t *testing.T, manifestText string) *manifest.Manifest {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"classgen.toml":                manifestText,
		"classes/Counter.class.toml":   counterDescription,
		"classes/sub/Other.class.toml": otherDescription,
		"classes/README.md":            "not a description",
	}
	for name, text := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(text), 0644); err != nil {
			t.Fatal(err)
		}
	}
	m, err := manifest.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func buildProject(t *testing.T, m *manifest.Manifest, listing *bytes.Buffer) []builtClass {
	t.Helper()
	files, err := m.Descriptions()
	if err != nil {
		t.Fatal(err)
	}
	var built []builtClass
	if listing != nil {
		built, err = build(m, files, listing)
	} else {
		built, err = build(m, files, nil)
	}
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return built
}

func TestBuildWritesClassFiles(t *testing.T) {
	m := writeProject(t, "[target]\nmajor = 55\n")
	built := buildProject(t, m, nil)

	if len(built) != 2 {
		t.Fatalf("built %d classes, want 2", len(built))
	}
	names := []string{built[0].Name, built[1].Name}
	if want := []string{"demo/Counter", "demo/Other"}; !reflect.DeepEqual(names, want) {
		t.Errorf("built = %v, want %v", names, want)
	}

	data, err := os.ReadFile(filepath.Join(m.Dir, "build", "classes", "demo", "Counter.class"))
	if err != nil {
		t.Fatal(err)
	}
	f, err := classfile.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Version.Major != 55 {
		t.Errorf("Counter major = %d, want target 55", f.Version.Major)
	}
	if f.ClassName() != "demo/Counter" {
		t.Errorf("ClassName() = %q", f.ClassName())
	}

	other, err := classfile.Parse(built[1].Data)
	if err != nil {
		t.Fatal(err)
	}
	if other.Version.Major != 49 {
		t.Errorf("Other major = %d, want its own 49", other.Version.Major)
	}
}

func TestBuildBundleAndStore(t *testing.T) {
	m := writeProject(t, `
[output]
bundle = "out/classes.cbor"
store = "out/classes.db"
`)
	built := buildProject(t, m, nil)

	b, err := bundle.ReadFile(m.BundlePath())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(b.Classes) != 2 || !bytes.Equal(b.Classes[0].Data, built[0].Data) {
		t.Errorf("bundle holds %d classes, want the 2 built", len(b.Classes))
	}

	s, err := store.Open(m.StorePath())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.GetByName("demo/Other")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if !bytes.Equal(got, built[1].Data) {
		t.Error("stored class differs from the written one")
	}

	names, err := listNames(m.BundlePath())
	if err != nil || !reflect.DeepEqual(names, []string{"demo/Counter", "demo/Other"}) {
		t.Errorf("listNames(bundle) = %v, %v", names, err)
	}
	names, err = listNames(m.StorePath())
	if err != nil || len(names) != 2 {
		t.Errorf("listNames(store) = %v, %v", names, err)
	}
}

func TestBuildListing(t *testing.T) {
	m := writeProject(t, "")
	var out bytes.Buffer
	buildProject(t, m, &out)

	text := out.String()
	for _, want := range []string{"# demo/Counter", "if_icmpge", "iinc 0 1", "constant = 3", "# demo/Other"} {
		if !strings.Contains(text, want) {
			t.Errorf("listing missing %q:\n%s", want, text)
		}
	}
}

func TestBuildIsReproducible(t *testing.T) {
	m := writeProject(t, "")
	first := buildProject(t, m, nil)
	second := buildProject(t, m, nil)
	for i := range first {
		if !bytes.Equal(first[i].Data, second[i].Data) {
			t.Errorf("%s differs between builds", first[i].Name)
		}
	}
}

func TestBuildRejectsDuplicateClass(t *testing.T) {
	m := writeProject(t, "")
	dup := filepath.Join(m.Dir, "classes", "Copy.class.toml")
	if err := os.WriteFile(dup, []byte(counterDescription), 0644); err != nil {
		t.Fatal(err)
	}
	files, err := m.Descriptions()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := build(m, files, nil); err == nil || !strings.Contains(err.Error(), "already defined") {
		t.Errorf("build error = %v, want already defined", err)
	}
}

func TestBuildReportsSourceFile(t *testing.T) {
	m := writeProject(t, "")
	bad := filepath.Join(m.Dir, "classes", "Bad.class.toml")
	src := "name = \"Bad\"\n[[methods]]\nname = \"m\"\ndescriptor = \"()V\"\naccess = [\"static\"]\ncode = \"pop\\nreturn\"\n"
	if err := os.WriteFile(bad, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := build(m, []string{bad}, nil)
	if err == nil || !strings.Contains(err.Error(), bad) {
		t.Errorf("build error = %v, want it to name %s", err, bad)
	}
}

func TestDescribeRejectsGarbage(t *testing.T) {
	var out bytes.Buffer
	if err := describe(&out, []byte("not a class")); err == nil {
		t.Error("describe(garbage) succeeded")
	}
}
