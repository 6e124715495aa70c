package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogFileName is the base name of the active log file.
const LogFileName = "clipbridge.log"

// LogPath returns the log file inside dir.
func LogPath(dir string) string {
	return filepath.Join(dir, LogFileName)
}

// FindLogFile returns explicit if set, else the log file in dir. It fails when
// the chosen file does not exist.
func FindLogFile(dir, explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return explicit, nil
	}

	path := LogPath(dir)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("no log file found at %s\nRun any clipbridge command to create it", path)
	}
	return path, nil
}
