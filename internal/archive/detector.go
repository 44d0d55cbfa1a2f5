package archive

import (
	"bytes"
	"os"
	"strings"
)

// Format represents the container format of a downloaded file
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatGzip
	FormatZstd
	FormatXz
	FormatTar
)

// String returns the string representation of Format
func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatGzip:
		return "gzip"
	case FormatZstd:
		return "zstd"
	case FormatXz:
		return "xz"
	case FormatTar:
		return "tar"
	default:
		return "unknown"
	}
}

// Magic bytes for container detection
var (
	zipMagic  = []byte{0x50, 0x4B, 0x03, 0x04}
	gzipMagic = []byte{0x1F, 0x8B}
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	xzMagic   = []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}
	// ustar magic lives at offset 257 of the first tar header
	tarMagic = []byte("ustar")
)

// DetectFormat determines the container format from magic bytes, falling
// back to the file name when the header is inconclusive.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()

	header := make([]byte, 512)
	n, err := f.Read(header)
	if err != nil && n == 0 {
		return FormatUnknown, err
	}
	return detect(header[:n], path), nil
}

func detect(header []byte, name string) Format {
	switch {
	case bytes.HasPrefix(header, zipMagic):
		return FormatZip
	case bytes.HasPrefix(header, gzipMagic):
		return FormatGzip
	case bytes.HasPrefix(header, zstdMagic):
		return FormatZstd
	case bytes.HasPrefix(header, xzMagic):
		return FormatXz
	case len(header) >= 262 && bytes.Equal(header[257:262], tarMagic):
		return FormatTar
	}

	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"), strings.HasSuffix(lower, ".ipa"):
		return FormatZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatGzip
	case strings.HasSuffix(lower, ".tar.zst"):
		return FormatZstd
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FormatXz
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar
	}
	return FormatUnknown
}

// IsTarball reports whether name looks like a compressed or plain tar archive
func IsTarball(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tar.gz", ".tgz", ".tar.zst", ".tar.xz", ".txz", ".tar"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
