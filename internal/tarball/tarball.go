// Package tarball extracts gzip-compressed ustar archives (npm package
// tarballs, ".tgz") into a vfs.FS, per spec §4.2 and §6.
package tarball

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/esmkit/esmkit/internal/vfs"
)

// Encoding selects the decompression codec applied before the ustar parse.
// npm always publishes tarballs gzip-compressed (the ".tgz" extension), so
// Gzip is both the default and, in practice, the only value in use.
type Encoding int

const (
	Gzip Encoding = iota
)

// Options controls path rewriting and entry filtering during extraction.
type Options struct {
	// StripComponents removes this many leading path segments from every
	// entry name. Defaults to 1, npm's "package/" prefix.
	StripComponents int
	HasStripComponents bool
	// Filter, when non-nil, is called with the (already-stripped) path; a
	// false return skips the entry.
	Filter func(p string) bool
}

func (o Options) stripComponents() int {
	if o.HasStripComponents {
		return o.StripComponents
	}
	return 1
}

// Extract decompresses data per encoding, parses the ustar stream, and
// writes regular files and directories into dest under destRoot. Symlinks
// and other entry types are ignored silently, per spec §4.2/§6.
func Extract(data []byte, encoding Encoding, dest *vfs.FS, destRoot string, opts Options) error {
	var decompressed io.Reader
	switch encoding {
	case Gzip:
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("tarball: gzip: %w", err)
		}
		defer gz.Close()
		decompressed = gz
	default:
		return fmt.Errorf("tarball: unknown encoding %d", encoding)
	}

	tr := tar.NewReader(decompressed)
	if err := dest.MkdirSync(destRoot, true); err != nil {
		return fmt.Errorf("tarball: create root %s: %w", destRoot, err)
	}

	strip := opts.stripComponents()
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("tarball: malformed archive: %w", err)
		}

		name := stripPrefix(hdr.Name, strip)
		if name == "" {
			continue
		}
		if opts.Filter != nil && !opts.Filter(name) {
			continue
		}
		destPath := path.Join(destRoot, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := dest.MkdirSync(destPath, true); err != nil {
				return fmt.Errorf("tarball: mkdir %s: %w", destPath, err)
			}
		case tar.TypeReg, tar.TypeRegA:
			content, err := io.ReadAll(tr)
			if err != nil {
				return fmt.Errorf("tarball: read entry %s: %w", hdr.Name, err)
			}
			if err := dest.MkdirSync(path.Dir(destPath), true); err != nil {
				return fmt.Errorf("tarball: mkdir %s: %w", path.Dir(destPath), err)
			}
			if err := dest.WriteFileSync(destPath, content); err != nil {
				return fmt.Errorf("tarball: write %s: %w", destPath, err)
			}
		case tar.TypeSymlink, tar.TypeLink:
			// symlinks are not materialized in the VFS; the spec treats
			// them (type flags '1'/'2') as recognized-but-ignored.
		default:
			// unknown entry types are ignored silently, per spec §7.
		}
	}
	return nil
}

func stripPrefix(name string, n int) string {
	name = strings.TrimPrefix(name, "./")
	segs := strings.Split(name, "/")
	if n >= len(segs) {
		return ""
	}
	return strings.Join(segs[n:], "/")
}
