package proc

import (
	"bytes"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"sync"
)

// EnsureExecutable sets the executable bits on path when they are missing.
// It is a no-op on Windows. Callers treat failures as advisory: a spawn that
// truly lacks permission fails on its own.
func EnsureExecutable(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode()
	if mode&0o111 == 0o111 {
		return nil
	}
	return os.Chmod(path, mode|fs.FileMode(0o755))
}

// LogWriter returns an io.Writer that logs each complete line it receives at
// debug level. It is meant for a child's stderr.
func LogWriter(logger *slog.Logger, name string) io.Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &logWriter{logger: logger, name: name}
}

type logWriter struct {
	logger *slog.Logger
	name   string

	mu  sync.Mutex
	buf []byte
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf[:i], "\r"))
		w.buf = w.buf[i+1:]
		if line != "" {
			w.logger.Debug("child stderr", slog.String("process", w.name), slog.String("line", line))
		}
	}
	// Cap unterminated output so a chatty child cannot grow the buffer forever.
	if len(w.buf) > 64*1024 {
		w.logger.Debug("child stderr", slog.String("process", w.name), slog.String("line", string(w.buf)))
		w.buf = w.buf[:0]
	}
	return len(p), nil
}
