package file

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FindModifiedBefore returns regular files under dir whose modification time is before cutoff.
// A missing dir yields no files and no error.
func FindModifiedBefore(dir string, cutoff time.Time) ([]string, error) {
	var staleFiles []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo,
		err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		if info.Mode().IsRegular() && info.ModTime().Before(cutoff) {
			staleFiles = append(staleFiles, path)
		}
		return nil
	})

	return staleFiles, err
}

// IsDirEmpty reports whether dir exists and holds no entries.
func IsDirEmpty(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer f.Close()

	names, err := f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return len(names) == 0, nil
}

// RemoveIfEmpty removes dir when it exists and is empty.
func RemoveIfEmpty(dir string) (bool, error) {
	empty, err := IsDirEmpty(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !empty {
		return false, nil
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	return true, nil
}
