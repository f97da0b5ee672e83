package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// debugMaxSizeMB is the rotation threshold for a debug log file.
const debugMaxSizeMB = 10

// DebugLog writes namespaced diagnostic records, one JSON object per
// line, to a rotating file. Files carry a daily date stamp and rotate at
// 10MB; the log directory is created owner-only.
type DebugLog struct {
	mu  sync.Mutex
	out io.WriteCloser
	now func() time.Time
}

// debugRecord is the persisted line format.
type debugRecord struct {
	Timestamp string         `json:"timestamp"`
	Namespace string         `json:"namespace"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Args      map[string]any `json:"args,omitempty"`
}

// OpenDebugLog opens (creating if needed) the debug log under dir.
func OpenDebugLog(dir string) (*DebugLog, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("logging: create debug log dir: %w", err)
	}
	name := fmt.Sprintf("debug-%s.log", time.Now().Format("2006-01-02"))
	return &DebugLog{
		out: &lumberjack.Logger{
			Filename:   filepath.Join(dir, name),
			MaxSize:    debugMaxSizeMB,
			MaxBackups: 5,
			MaxAge:     30,
		},
		now: time.Now,
	}, nil
}

// Close flushes and closes the underlying file.
func (l *DebugLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

// Debugf writes a debug-level record for the namespace. args are
// alternating key/value pairs.
func (l *DebugLog) Debugf(namespace, message string, args ...any) {
	l.write("debug", namespace, message, args)
}

// Infof writes an info-level record.
func (l *DebugLog) Infof(namespace, message string, args ...any) {
	l.write("info", namespace, message, args)
}

// Warnf writes a warn-level record.
func (l *DebugLog) Warnf(namespace, message string, args ...any) {
	l.write("warn", namespace, message, args)
}

// Errorf writes an error-level record.
func (l *DebugLog) Errorf(namespace, message string, args ...any) {
	l.write("error", namespace, message, args)
}

func (l *DebugLog) write(level, namespace, message string, args []any) {
	record := debugRecord{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		Namespace: namespace,
		Level:     level,
		Message:   message,
		Args:      pairsToMap(args),
	}
	line, err := json.Marshal(record)
	if err != nil {
		// Unserializable arg values are replaced rather than losing the
		// whole record.
		record.Args = stringifyValues(record.Args)
		line, err = json.Marshal(record)
		if err != nil {
			return
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(append(line, '\n')) //nolint:errcheck
}

func pairsToMap(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	m := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		m[key] = args[i+1]
	}
	if len(args)%2 != 0 {
		m["_extra"] = args[len(args)-1]
	}
	return m
}

func stringifyValues(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, err := json.Marshal(v); err != nil {
			out[k] = "[unserializable]"
			continue
		}
		out[k] = v
	}
	return out
}
