package ipa

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"howett.net/plist"
)

func demoInfo() map[string]interface{} {
	return map[string]interface{}{
		"CFBundleShortVersionString": "1.2.0",
		"CFBundleVersion":            "42",
		"CFBundleIdentifier":         "com.example.demo",
		"MinimumOSVersion":           "15.0",
	}
}

func TestParsePackage(t *testing.T) {
	for name, format := range map[string]int{"xml": plist.XMLFormat, "binary": plist.BinaryFormat} {
		t.Run(name, func(t *testing.T) {
			path := buildIPA(t, t.TempDir(), demoInfo(), format)

			meta, err := ParsePackage(path)
			if err != nil {
				t.Fatalf("Failed to parse IPA: %v", err)
			}
			if meta.Version != "1.2.0" {
				t.Errorf("Version = %q, want 1.2.0", meta.Version)
			}
			if meta.Build != "42" {
				t.Errorf("Build = %q, want 42", meta.Build)
			}
			if meta.BundleIdentifier != "com.example.demo" {
				t.Errorf("BundleIdentifier = %q", meta.BundleIdentifier)
			}
			if meta.MinOSVersion != "15.0" {
				t.Errorf("MinOSVersion = %q", meta.MinOSVersion)
			}
			if len(meta.SHA256) != 64 {
				t.Errorf("SHA256 has unexpected length: %q", meta.SHA256)
			}
			info, _ := os.Stat(path)
			if meta.Size != info.Size() {
				t.Errorf("Size = %d, want %d", meta.Size, info.Size())
			}
		})
	}
}

func TestParsePackageMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.ipa")
	if err := os.WriteFile(path, []byte("definitely not a zip"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	meta, err := ParsePackage(path)
	if err == nil {
		t.Fatal("Expected an error for a non-zip file")
	}
	if meta == nil || meta.SHA256 == "" {
		t.Error("Checksum should still be reported for malformed packages")
	}
}

func TestParsePackageWithoutDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.ipa")
	f, _ := os.Create(path)
	zw := zip.NewWriter(f)
	w, _ := zw.Create("Payload/Demo.app/Demo")
	w.Write([]byte("binary"))
	zw.Close()
	f.Close()

	_, err := ParsePackage(path)
	if !errors.Is(err, ErrNoDescriptor) {
		t.Errorf("Expected ErrNoDescriptor, got %v", err)
	}
}

func TestParsePackageAmbiguousDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "two.ipa")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	zw := zip.NewWriter(f)
	for _, name := range []string{"Payload/One.app/Info.plist", "Payload/Two.app/Info.plist"} {
		w, _ := zw.Create(name)
		w.Write([]byte("<plist></plist>"))
	}
	zw.Close()
	f.Close()

	meta, err := ParsePackage(path)
	if !errors.Is(err, ErrAmbiguousDescriptor) {
		t.Errorf("Expected ErrAmbiguousDescriptor, got %v", err)
	}
	if meta == nil || meta.SHA256 == "" {
		t.Error("Checksum should still be reported for ambiguous packages")
	}

	if err := Repackage(path, filepath.Join(dir, "out.ipa"), "x.y"); !errors.Is(err, ErrAmbiguousDescriptor) {
		t.Errorf("Expected repackaging to refuse an ambiguous IPA, got %v", err)
	}
}

func TestRepackage(t *testing.T) {
	dir := t.TempDir()
	src := buildIPA(t, dir, demoInfo(), plist.BinaryFormat)
	dst := filepath.Join(dir, "out", "Demo-nightly.ipa")

	if err := Repackage(src, dst, "com.example.demo.nightly"); err != nil {
		t.Fatalf("Failed to repackage: %v", err)
	}

	before, err := ParsePackage(src)
	if err != nil {
		t.Fatalf("Failed to parse original: %v", err)
	}
	after, err := ParsePackage(dst)
	if err != nil {
		t.Fatalf("Failed to parse repackaged IPA: %v", err)
	}

	if after.BundleIdentifier != "com.example.demo.nightly" {
		t.Errorf("BundleIdentifier = %q", after.BundleIdentifier)
	}
	if after.Version != before.Version || after.Build != before.Build {
		t.Errorf("Version fields changed: %+v vs %+v", after, before)
	}
	if after.SHA256 == before.SHA256 {
		t.Error("Repackaged IPA should have a different hash")
	}

	orig, _ := zip.OpenReader(src)
	defer orig.Close()
	repacked, err := zip.OpenReader(dst)
	if err != nil {
		t.Fatalf("Failed to open repackaged IPA: %v", err)
	}
	defer repacked.Close()

	if len(orig.File) != len(repacked.File) {
		t.Fatalf("Entry count changed: %d -> %d", len(orig.File), len(repacked.File))
	}
	for i := range orig.File {
		if orig.File[i].Name != repacked.File[i].Name {
			t.Errorf("Entry %d renamed: %s -> %s", i, orig.File[i].Name, repacked.File[i].Name)
		}
	}
}

func TestRepackageWithoutDescriptor(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bad.ipa")
	os.WriteFile(src, []byte("garbage"), 0644)

	if err := Repackage(src, filepath.Join(dir, "out.ipa"), "x.y"); err == nil {
		t.Error("Expected repackaging a non-zip file to fail")
	}
}
