package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
)

// DefaultExtensions are the image types clip_tool indexes.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg"}

// CountImages counts the immediate children of dir whose extension matches
// exts case-insensitively. Subdirectories are not descended. Nil exts means
// DefaultExtensions.
func CountImages(dir string, exts []string) (int, error) {
	if err := checkDir(dir); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, cberrors.New(cberrors.ErrCodeDirectoryNotFound,
			fmt.Sprintf("cannot read %s", dir), err)
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if IsImage(e.Name(), exts) {
			count++
		}
	}
	return count, nil
}

// IsImage reports whether name has one of exts, ignoring case.
func IsImage(name string, exts []string) bool {
	if exts == nil {
		exts = DefaultExtensions
	}
	ext := filepath.Ext(name)
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// checkDir returns ERR_203 unless dir exists and is a directory.
func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return cberrors.New(cberrors.ErrCodeDirectoryNotFound,
			fmt.Sprintf("directory not found: %s", dir), err).
			WithDetail("dir", dir)
	}
	if !info.IsDir() {
		return cberrors.New(cberrors.ErrCodeDirectoryNotFound,
			fmt.Sprintf("not a directory: %s", dir), nil).
			WithDetail("dir", dir)
	}
	return nil
}
