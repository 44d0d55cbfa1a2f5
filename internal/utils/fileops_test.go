package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileIfChanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "source.json")

	written, err := WriteFileIfChanged(path, []byte("{}\n"), 0644)
	if err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if !written {
		t.Error("Expected first write to happen")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat file: %v", err)
	}
	modTime := info.ModTime()

	written, err = WriteFileIfChanged(path, []byte("{}\n"), 0644)
	if err != nil {
		t.Fatalf("Failed to rewrite file: %v", err)
	}
	if written {
		t.Error("Identical content should not be rewritten")
	}
	info, _ = os.Stat(path)
	if !info.ModTime().Equal(modTime) {
		t.Error("File was touched although content did not change")
	}

	written, err = WriteFileIfChanged(path, []byte("[]\n"), 0644)
	if err != nil {
		t.Fatalf("Failed to write changed file: %v", err)
	}
	if !written {
		t.Error("Changed content should be written")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Expected no leftover temp files, found %d entries", len(entries))
	}
}

func TestCalculateChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("Failed to write blob: %v", err)
	}

	sum, err := CalculateChecksum(path)
	if err != nil {
		t.Fatalf("Failed to calculate checksum: %v", err)
	}

	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if sum.SHA256 != want {
		t.Errorf("SHA256 = %s, want %s", sum.SHA256, want)
	}
	if sum.Size != 5 {
		t.Errorf("Size = %d, want 5", sum.Size)
	}
	if SHA256Bytes([]byte("hello")) != want {
		t.Error("SHA256Bytes disagrees with CalculateChecksum")
	}
}
