package archive

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Unpack extracts a tar bundle into dir. The compression is detected from
// the file content, falling back to the file suffix.
func Unpack(bundle, dir string) error {
	f, err := os.Open(bundle)
	if err != nil {
		return err
	}
	defer f.Close()

	r, closeFn, err := decompressor(bundle, f)
	if err != nil {
		return err
	}
	defer closeFn()

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	tr := tar.NewReader(r)
	n := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		target, err := safeJoin(root, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
			n++
		default:
			// links and devices never appear in game bundles
		}
	}
	if n == 0 {
		return fmt.Errorf("no files in bundle")
	}
	return nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", filepath.Base(target), err)
	}
	return out.Close()
}

func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("entry %q escapes the game directory", name)
	}
	return target, nil
}

func decompressor(name string, f *os.File) (io.Reader, func(), error) {
	noop := func() {}
	br := bufio.NewReader(f)
	head, _ := br.Peek(3072)
	mime := mimetype.Detect(head)

	switch {
	case mime.Is("application/gzip") || hasSuffix(name, ".tar.gz", ".tgz"):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, noop, fmt.Errorf("gzip: %w", err)
		}
		return gz, func() { gz.Close() }, nil
	case mime.Is("application/x-xz") || hasSuffix(name, ".tar.xz", ".txz"):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, noop, fmt.Errorf("xz: %w", err)
		}
		return xr, noop, nil
	case mime.Is("application/zstd") || hasSuffix(name, ".tar.zst", ".tzst"):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, noop, fmt.Errorf("zstd: %w", err)
		}
		return dec, dec.Close, nil
	case mime.Is("application/x-tar") || hasSuffix(name, ".tar"):
		return br, noop, nil
	}
	return nil, noop, fmt.Errorf("unsupported bundle type %s", mime.String())
}

func hasSuffix(name string, suffixes ...string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
