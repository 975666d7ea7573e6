// Package archive provides tar and tar.gz handling for bundle files.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// gzipMagic is the two-byte gzip file signature.
var gzipMagic = []byte{0x1f, 0x8b}

// =============================================================================
// Creation
// =============================================================================

// Create tars srcDir into destFile with every entry placed under rootName,
// so the archive extracts to exactly one top-level directory.
func Create(destFile, srcDir, rootName string, useGz bool) error {
	return create(destFile, srcDir, rootName, useGz)
}

// CreateFromDir tars the contents of srcDir with paths relative to it,
// the same shape "tar -C srcDir ." produces.
func CreateFromDir(destFile, srcDir string, useGz bool) error {
	return create(destFile, srcDir, "", useGz)
}

func create(destFile, srcDir, rootName string, useGz bool) error {
	file, err := os.Create(destFile)
	if err != nil {
		return err
	}
	defer file.Close()

	var out io.Writer = file
	if useGz {
		gw := gzip.NewWriter(file)
		defer gw.Close()
		out = gw
	}

	tw := tar.NewWriter(out)
	defer tw.Close()

	return filepath.Walk(srcDir, func(current string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(srcDir, current)
		if err != nil {
			return err
		}
		if relPath == "." && rootName == "" {
			return nil
		}

		name := filepath.ToSlash(relPath)
		if rootName != "" {
			if relPath == "." {
				name = rootName
			} else {
				name = rootName + "/" + name
			}
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(current); err != nil {
				return err
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		header.Name = name

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(current)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// =============================================================================
// Extraction
// =============================================================================

// Extract unpacks a tar or tar.gz file into destDir, detecting compression
// from the file content rather than the extension.
func Extract(srcFile, destDir string) error {
	file, err := os.Open(srcFile)
	if err != nil {
		return err
	}
	defer file.Close()

	var in io.Reader = file
	compressed, err := isGzip(file)
	if err != nil {
		return err
	}
	if compressed {
		gr, err := gzip.NewReader(file)
		if err != nil {
			return err
		}
		defer gr.Close()
		in = gr
	}

	tr := tar.NewReader(in)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := securePath(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(header.Linkname, target); err != nil && !os.IsExist(err) {
				return err
			}
		default:
			// Hard links, devices and the like don't occur in volume data we
			// produce; skip anything unexpected.
		}
	}
}

// isGzip sniffs the gzip signature and rewinds the file.
func isGzip(file *os.File) (bool, error) {
	magic := make([]byte, 2)
	n, err := io.ReadFull(file, magic)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	return n == 2 && magic[0] == gzipMagic[0] && magic[1] == gzipMagic[1], nil
}

// securePath joins name under destDir, refusing entries that escape it.
func securePath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}
