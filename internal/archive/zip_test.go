package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

func buildArchive(t *testing.T, entries map[string]string, order []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sub.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	w := zip.NewWriter(f)
	for _, name := range order {
		entry, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := entry.Write([]byte(entries[name])); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractWritesAllEntries(t *testing.T) {
	path := buildArchive(t, map[string]string{"main.cpp": "int main(){}", "util/helper.h": "#pragma once"}, []string{"main.cpp", "util/helper.h"})
	dest := t.TempDir()
	if err := Extract(path, dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "main.cpp"))
	if err != nil || string(data) != "int main(){}" {
		t.Fatalf("got %q (%v)", data, err)
	}
	if _, err := os.Stat(filepath.Join(dest, "util", "helper.h")); err != nil {
		t.Fatalf("nested entry missing: %v", err)
	}
}

func TestExtractRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	if err := os.WriteFile(path, []byte("not a zip"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Extract(path, t.TempDir()); err == nil {
		t.Fatal("expected error for a corrupt archive")
	}
}

func TestFirstEntryName(t *testing.T) {
	path := buildArchive(t, map[string]string{"main.cpp": "x", "other.cpp": "y"}, []string{"main.cpp", "other.cpp"})
	name, err := FirstEntryName(path)
	if err != nil {
		t.Fatalf("FirstEntryName: %v", err)
	}
	if name != "main.cpp" {
		t.Fatalf("got %q", name)
	}
}

func TestFirstEntryNameEmptyArchive(t *testing.T) {
	path := buildArchive(t, nil, nil)
	if _, err := FirstEntryName(path); err == nil {
		t.Fatal("expected error for an empty archive")
	}
}
