package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// HTTPLogger appends one line per request to a dedicated access log file,
// separate from the structured application log. Writing is best-effort: when
// the file cannot be opened the logger silently discards.
type HTTPLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewHTTPLogger opens the access log file. The path comes from HTTP_LOG_FILE
// (default logs/http.log); the parent directory is created when missing.
func NewHTTPLogger() *HTTPLogger {
	path := os.Getenv("HTTP_LOG_FILE")
	if path == "" {
		path = filepath.Join("logs", "http.log")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &HTTPLogger{}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &HTTPLogger{}
	}

	return &HTTPLogger{file: f}
}

// LogRequest writes a single access-log line. Safe for concurrent use.
func (l *HTTPLogger) LogRequest(ip, method, uri string, status int, latency time.Duration, userAgent, requestID string) {
	if l == nil || l.file == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.file, "%s %s %s %s %d %s %q %s\n",
		time.Now().UTC().Format(time.RFC3339),
		ip, method, uri, status, latency, userAgent, requestID,
	)
}

// Close releases the underlying file.
func (l *HTTPLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
