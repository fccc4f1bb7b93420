package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var observationExts = map[string]struct{}{
	".obs": {},
	".mpc": {},
	".txt": {},
	".80":  {},
}

// ListObservations returns all observation-like files under root.
func ListObservations(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsObservationFile(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// IsObservationFile checks if a file carries an 80-column observation extension.
func IsObservationFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := observationExts[ext]
	return ok
}

// CopyFile copies a regular file, preserving its permission bits.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: not a regular file", src)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// RemoveIfExists deletes path, treating a missing file as success.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
