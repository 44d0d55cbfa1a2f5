package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// ErrNoMember is returned when no archive member satisfies the chooser
var ErrNoMember = errors.New("no matching member in archive")

// Member describes a regular file inside an archive
type Member struct {
	Name string
	Size int64
}

// Chooser picks one member out of the candidates. It returns false when
// none of them is acceptable.
type Chooser func(members []Member) (Member, bool)

// ExtractMember opens the archive at src, lets choose pick one regular file
// and writes its content to dest. Zip archives are indexed up front; tar
// streams are read twice, once to list and once to extract.
func ExtractMember(src, dest string, choose Chooser) (Member, error) {
	format, err := DetectFormat(src)
	if err != nil {
		return Member{}, err
	}

	switch format {
	case FormatZip:
		return extractFromZip(src, dest, choose)
	case FormatGzip, FormatZstd, FormatXz, FormatTar:
		members, err := listTar(src, format)
		if err != nil {
			return Member{}, err
		}
		selected, ok := choose(members)
		if !ok {
			return Member{}, ErrNoMember
		}
		if err := extractFromTar(src, format, selected.Name, dest); err != nil {
			return Member{}, err
		}
		return selected, nil
	default:
		return Member{}, fmt.Errorf("unsupported archive format: %s", filepath.Base(src))
	}
}

func extractFromZip(src, dest string, choose Chooser) (Member, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return Member{}, err
	}
	defer zr.Close()

	var members []Member
	byName := make(map[string]*zip.File)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		members = append(members, Member{Name: f.Name, Size: int64(f.UncompressedSize64)})
		byName[f.Name] = f
	}
	sortMembers(members)

	selected, ok := choose(members)
	if !ok {
		return Member{}, ErrNoMember
	}

	rc, err := byName[selected.Name].Open()
	if err != nil {
		return Member{}, err
	}
	defer rc.Close()

	if err := writeStream(rc, dest); err != nil {
		return Member{}, err
	}
	return selected, nil
}

// openTar wraps the file in the decompressor matching format
func openTar(f *os.File, format Format) (*tar.Reader, func(), error) {
	switch format {
	case FormatGzip:
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, err
		}
		return tar.NewReader(gr), func() { gr.Close() }, nil
	case FormatZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, nil, err
		}
		return tar.NewReader(zr), zr.Close, nil
	case FormatXz:
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, nil, err
		}
		return tar.NewReader(xr), func() {}, nil
	default:
		return tar.NewReader(f), func() {}, nil
	}
}

func listTar(src string, format Format) ([]Member, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tr, closeFn, err := openTar(f, format)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var members []Member
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		members = append(members, Member{Name: path.Clean(header.Name), Size: header.Size})
	}
	sortMembers(members)
	return members, nil
}

func extractFromTar(src string, format Format, name, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	tr, closeFn, err := openTar(f, format)
	if err != nil {
		return err
	}
	defer closeFn()

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if header.Typeflag == tar.TypeReg && path.Clean(header.Name) == name {
			return writeStream(tr, dest)
		}
	}
	return ErrNoMember
}

func writeStream(r io.Reader, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func sortMembers(members []Member) {
	sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })
}
