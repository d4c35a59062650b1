// Package logging provides the per-submission file logger.
//
// It complements the global zap logger in pkg/utils/logger with a
// plain-text sink scoped to one submission's workspace, formatted as
// required by the reported debug payload.
package logging

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"
)

// SubmissionLogger writes `timestamp - level - message` lines to
// logs/worker.log inside a submission's workspace.
type SubmissionLogger struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
	mirror bool
}

// Open creates (truncating) the log file at path. mirrorStdout
// additionally echoes every line to stdout.
func Open(path string, mirrorStdout bool) (*SubmissionLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open submission log: %w", err)
	}
	return &SubmissionLogger{file: f, w: bufio.NewWriter(f), mirror: mirrorStdout}, nil
}

func (l *SubmissionLogger) log(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s - %s - %s\n", time.Now().UTC().Format(time.RFC3339), level, fmt.Sprintf(format, args...))
	_, _ = l.w.WriteString(line)
	if l.mirror {
		_, _ = os.Stdout.WriteString(line)
	}
}

// Info logs an informational line.
func (l *SubmissionLogger) Info(format string, args ...interface{}) { l.log("INFO", format, args...) }

// Warn logs a warning line.
func (l *SubmissionLogger) Warn(format string, args ...interface{}) { l.log("WARN", format, args...) }

// Error logs an error line.
func (l *SubmissionLogger) Error(format string, args ...interface{}) { l.log("ERROR", format, args...) }

// Debug logs a debug line, used for masked-failure notes such as
// script-parse degradation.
func (l *SubmissionLogger) Debug(format string, args ...interface{}) { l.log("DEBUG", format, args...) }

// Close flushes and closes the underlying file. Must be called before the
// log is read back for embedding into the result payload.
func (l *SubmissionLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// ReadCapped reads up to maxBytes from path, used to embed logs/worker.log
// (capped ~20KB) into SubmissionResult.Debug.
func ReadCapped(path string, maxBytes int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()
	buf := make([]byte, maxBytes)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", nil
	}
	content := string(buf[:n])
	if more, _ := f.Read(make([]byte, 1)); more > 0 {
		content += "...(truncated)"
	}
	return content, nil
}
