// Package ipa reads and rewrites the Info.plist descriptor embedded in iOS
// application archives.
package ipa

import (
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/klauspost/compress/zip"
	"github.com/ralt/altsource/internal/utils"
	"howett.net/plist"
)

// ErrNoDescriptor is returned when the archive has no top-level app Info.plist
var ErrNoDescriptor = errors.New("Info.plist not found in IPA")

// ErrAmbiguousDescriptor is returned when more than one app bundle sits under Payload/
var ErrAmbiguousDescriptor = errors.New("multiple app Info.plist files in IPA")

// descriptorPattern matches exactly one nesting level: Payload/<name>.app/Info.plist
var descriptorPattern = regexp.MustCompile(`(?i)^Payload/[^/]+\.app/Info\.plist$`)

const (
	keyShortVersion = "CFBundleShortVersionString"
	keyBuildVersion = "CFBundleVersion"
	keyIdentifier   = "CFBundleIdentifier"
	keyMinOS        = "MinimumOSVersion"
)

// Metadata is the ground truth read from inside a binary
type Metadata struct {
	Version          string
	Build            string
	BundleIdentifier string
	MinOSVersion     string
	SHA256           string
	Size             int64
}

// ParsePackage hashes the IPA at path and reads its embedded descriptor.
// When the descriptor cannot be read the checksum is still returned together
// with an error wrapping ErrNoDescriptor or the archive error.
func ParsePackage(path string) (*Metadata, error) {
	checksum, err := utils.CalculateChecksum(path)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	meta := &Metadata{
		SHA256: checksum.SHA256,
		Size:   checksum.Size,
	}

	info, err := readInfoPlist(path)
	if err != nil {
		return meta, fmt.Errorf("failed to read Info.plist: %w", err)
	}

	meta.Version = stringValue(info, keyShortVersion)
	meta.Build = stringValue(info, keyBuildVersion)
	meta.BundleIdentifier = stringValue(info, keyIdentifier)
	meta.MinOSVersion = stringValue(info, keyMinOS)

	if meta.Version == "" && meta.Build != "" {
		meta.Version = meta.Build
	}

	return meta, nil
}

// readInfoPlist opens the archive and decodes the descriptor matching descriptorPattern
func readInfoPlist(path string) (map[string]interface{}, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	f, err := findDescriptor(zr.File)
	if err != nil {
		return nil, err
	}

	data, err := readZipFile(f)
	if err != nil {
		return nil, err
	}

	info, _, err := decodePlist(data)
	return info, err
}

// findDescriptor returns the only file matching descriptorPattern
func findDescriptor(files []*zip.File) (*zip.File, error) {
	var found *zip.File
	for _, f := range files {
		if !descriptorPattern.MatchString(f.Name) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %s and %s", ErrAmbiguousDescriptor, found.Name, f.Name)
		}
		found = f
	}
	if found == nil {
		return nil, ErrNoDescriptor
	}
	return found, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// decodePlist decodes XML, binary or OpenStep plists and reports the format
// so that rewrites keep it.
func decodePlist(data []byte) (map[string]interface{}, int, error) {
	var info map[string]interface{}
	format, err := plist.Unmarshal(data, &info)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode plist: %w", err)
	}
	if info == nil {
		return nil, 0, fmt.Errorf("plist root is not a dictionary")
	}
	return info, format, nil
}

func stringValue(info map[string]interface{}, key string) string {
	switch v := info[key].(type) {
	case string:
		return v
	case uint64, int64, float64:
		return fmt.Sprint(v)
	default:
		return ""
	}
}
