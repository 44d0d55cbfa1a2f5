package ipa

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"howett.net/plist"
)

// buildIPA writes a minimal IPA with the given Info.plist dictionary encoded in format
func buildIPA(t *testing.T, dir string, info map[string]interface{}, format int) string {
	t.Helper()

	plistData, err := plist.Marshal(info, format)
	if err != nil {
		t.Fatalf("Failed to encode plist: %v", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entries := []struct {
		name string
		data []byte
	}{
		{"Payload/", nil},
		{"Payload/Demo.app/", nil},
		{"Payload/Demo.app/Info.plist", plistData},
		{"Payload/Demo.app/Demo", []byte("machO")},
		{"Payload/Demo.app/PlugIns/Widget.appex/Info.plist", []byte("not the app descriptor")},
	}
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("Failed to create entry %s: %v", e.name, err)
		}
		if e.data != nil {
			w.Write(e.data)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to close zip: %v", err)
	}

	path := filepath.Join(dir, "Demo.ipa")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write IPA: %v", err)
	}
	return path
}
