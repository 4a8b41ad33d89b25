package fitfile

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var zipMagic = []byte("PK\x03\x04")

// Unpack returns path itself unless it is a zip archive, as Garmin exports
// are. Archives have their first activity file extracted next to them.
func Unpack(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, len(zipMagic))
	if _, err := io.ReadFull(f, head); err != nil || !bytes.Equal(head, zipMagic) {
		return path, nil
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer r.Close()

	for _, entry := range r.File {
		if _, err := Format(entry.Name); err != nil {
			continue
		}
		out := filepath.Join(filepath.Dir(path), filepath.Base(entry.Name))
		if err := extract(entry, out); err != nil {
			return "", err
		}
		return out, nil
	}
	return "", fmt.Errorf("no activity file in archive %s", filepath.Base(path))
}

func extract(entry *zip.File, out string) error {
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", entry.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
	}
	return nil
}
