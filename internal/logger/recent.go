package logger

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

const defaultRecentSize = 500

// Entry is one parsed log line kept for the system log endpoint.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Recent is an io.Writer that keeps the last entries zerolog wrote.
type Recent struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewRecent creates a buffer holding up to size entries.
func NewRecent(size int) *Recent {
	if size <= 0 {
		size = defaultRecentSize
	}
	return &Recent{entries: make([]Entry, size)}
}

// Write implements io.Writer. Lines that are not JSON objects are dropped.
func (r *Recent) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		return len(p), nil
	}

	entry := Entry{
		Timestamp: takeString(raw, zerolog.TimestampFieldName),
		Level:     takeString(raw, zerolog.LevelFieldName),
		Component: takeString(raw, "component"),
		Message:   takeString(raw, zerolog.MessageFieldName),
	}
	if len(raw) > 0 {
		entry.Fields = raw
	}

	r.mu.Lock()
	r.entries[r.next] = entry
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
	return len(p), nil
}

func takeString(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	delete(raw, key)
	return s
}

// Entries returns buffered entries at or above minLevel, oldest first.
func (r *Recent) Entries(minLevel zerolog.Level) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ordered []Entry
	if r.full {
		ordered = append(ordered, r.entries[r.next:]...)
	}
	ordered = append(ordered, r.entries[:r.next]...)

	out := make([]Entry, 0, len(ordered))
	for _, e := range ordered {
		lvl, err := zerolog.ParseLevel(e.Level)
		if err != nil || lvl >= minLevel {
			out = append(out, e)
		}
	}
	return out
}
