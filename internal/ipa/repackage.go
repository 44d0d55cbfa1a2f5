package ipa

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"howett.net/plist"
)

// Repackage copies the IPA at src to dst, replacing CFBundleIdentifier in the
// top-level app descriptor with bundleID. Every other entry is copied raw, so
// the directory structure, compression and timestamps are preserved.
func Repackage(src, dst, bundleID string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open IPA: %w", err)
	}
	defer zr.Close()

	descriptor, err := findDescriptor(zr.File)
	if err != nil {
		return err
	}

	data, err := readZipFile(descriptor)
	if err != nil {
		return fmt.Errorf("failed to read descriptor: %w", err)
	}
	rewritten, err := rewriteIdentifier(data, bundleID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(out)
	if err := copyEntries(zw, zr.File, descriptor, rewritten); err != nil {
		zw.Close()
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to finalize IPA: %w", err)
	}
	return out.Close()
}

func copyEntries(zw *zip.Writer, files []*zip.File, descriptor *zip.File, rewritten []byte) error {
	for _, f := range files {
		if f != descriptor {
			if err := zw.Copy(f); err != nil {
				return fmt.Errorf("failed to copy %s: %w", f.Name, err)
			}
			continue
		}

		header := f.FileHeader
		w, err := zw.CreateHeader(&header)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", f.Name, err)
		}
		if _, err := w.Write(rewritten); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Name, err)
		}
	}
	return nil
}

// rewriteIdentifier replaces the identifier and re-encodes the plist in its original format
func rewriteIdentifier(data []byte, bundleID string) ([]byte, error) {
	info, format, err := decodePlist(data)
	if err != nil {
		return nil, err
	}
	info[keyIdentifier] = bundleID

	if format == plist.OpenStepFormat || format == plist.GNUStepFormat {
		format = plist.XMLFormat
	}
	out, err := plist.Marshal(info, format)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plist: %w", err)
	}
	return out, nil
}
