package logger

import "sync"

// Entry is one captured log call.
type Entry struct {
	Level   string
	Module  string
	Message string
	Details map[string]interface{}
}

// RecordingLogger keeps every entry in memory. Tests use it to assert that
// warnings (dropped columns, duplicate metadata configs) were emitted.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []Entry
}

func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (l *RecordingLogger) record(level, module, message string, details map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Module: module, Message: message, Details: details})
}

func (l *RecordingLogger) Debug(module, message string, details map[string]interface{}) {
	l.record("DEBUG", module, message, details)
}

func (l *RecordingLogger) Info(module, message string, details map[string]interface{}) {
	l.record("INFO", module, message, details)
}

func (l *RecordingLogger) Warn(module, message string, details map[string]interface{}) {
	l.record("WARN", module, message, details)
}

func (l *RecordingLogger) Error(module, message string, details map[string]interface{}) {
	l.record("ERROR", module, message, details)
}

func (l *RecordingLogger) Sync() error { return nil }

// Entries returns entries at the given level, or all of them when level is empty.
func (l *RecordingLogger) Entries(level string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}
