package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

// DefaultCapacity is the number of entries a sink retains before evicting the oldest.
const DefaultCapacity = 100

// Level tags a log entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
	LevelDebug   Level = "debug"
)

// SlogLevelSuccess sits between INFO and WARN so success entries survive an info-level mirror.
const SlogLevelSuccess = slog.Level(2)

// ParseLevel validates a level string.
func ParseLevel(s string) (Level, error) {
	switch l := Level(s); l {
	case LevelInfo, LevelWarn, LevelError, LevelSuccess, LevelDebug:
		return l, nil
	}
	return "", fmt.Errorf("invalid log level %q (must be info, warn, error, success or debug)", s)
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelSuccess:
		return SlogLevelSuccess
	default:
		return slog.LevelInfo
	}
}

// Entry is a single retained diagnostic event.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sink is a bounded, append-only record of diagnostic events.
// It is created explicitly and handed to the components that log into it.
type Sink struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	mirror   *slog.Logger
	now      func() time.Time
}

// New creates a sink holding at most capacity entries. A capacity <= 0 selects
// DefaultCapacity. If mirror is non-nil every entry is also written to it.
func New(capacity int, mirror *slog.Logger) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sink{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
		mirror:   mirror,
		now:      time.Now,
	}
}

// Append records an entry. args are slog-style key/value pairs (or slog.Attr values).
func (s *Sink) Append(level Level, msg string, args ...any) {
	entry := Entry{
		Timestamp: s.now().UTC().Round(0),
		Level:     level,
		Message:   msg,
		Data:      argsToData(args),
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	if over := len(s.entries) - s.capacity; over > 0 {
		// copy down so the backing array does not grow without bound
		n := copy(s.entries, s.entries[over:])
		clear(s.entries[n:])
		s.entries = s.entries[:n]
	}
	s.mu.Unlock()

	if s.mirror != nil {
		s.mirror.Log(context.Background(), level.slogLevel(), msg, args...)
	}
}

func (s *Sink) Info(msg string, args ...any)    { s.Append(LevelInfo, msg, args...) }
func (s *Sink) Warn(msg string, args ...any)    { s.Append(LevelWarn, msg, args...) }
func (s *Sink) Error(msg string, args ...any)   { s.Append(LevelError, msg, args...) }
func (s *Sink) Success(msg string, args ...any) { s.Append(LevelSuccess, msg, args...) }
func (s *Sink) Debug(msg string, args ...any)   { s.Append(LevelDebug, msg, args...) }

// Entries returns a copy of all retained entries in insertion order.
func (s *Sink) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ByLevel returns the retained entries with the given level, in insertion order.
func (s *Sink) ByLevel(level Level) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range s.entries {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Len reports how many entries are retained.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear drops every retained entry.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
	s.entries = s.entries[:0]
}

// Export serializes the retained entries as an indented JSON array.
func (s *Sink) Export() ([]byte, error) {
	return json.MarshalIndent(s.Entries(), "", "  ")
}

// ExportFilename names an export document after the given date.
func ExportFilename(t time.Time) string {
	return fmt.Sprintf("solana-transaction-logs-%s.json", t.Format(time.DateOnly))
}

// ParseExport decodes a document produced by Export.
func ParseExport(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse log export: %w", err)
	}
	return entries, nil
}

const badKey = "!BADKEY"

func argsToData(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	data := make(map[string]any, len(args)/2)
	for len(args) > 0 {
		switch key := args[0].(type) {
		case slog.Attr:
			data[key.Key] = Sanitize(key.Value.Any())
			args = args[1:]
		case string:
			if len(args) == 1 {
				data[badKey] = Sanitize(key)
				args = nil
				continue
			}
			data[key] = Sanitize(args[1])
			args = args[2:]
		default:
			data[badKey] = Sanitize(key)
			args = args[1:]
		}
	}
	return data
}

// Sanitize converts v into a JSON-safe value. Keys and signatures become base58
// strings, byte slices become a length summary and errors become their message.
// Anything that cannot be round-tripped through JSON falls back to fmt.Sprint.
// Sanitize never panics.
func Sanitize(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = safeSprint(v)
		}
	}()

	pre := presanitize(v)
	raw, err := json.Marshal(pre)
	if err != nil {
		return safeSprint(v)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return safeSprint(v)
	}
	return decoded
}

func presanitize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case error:
		return val.Error()
	case []byte:
		return fmt.Sprintf("bytes(%d)", len(val))
	case solana.PublicKey:
		return val.String()
	case *solana.PublicKey:
		if val == nil {
			return nil
		}
		return val.String()
	case solana.Signature:
		return val.String()
	case solana.Hash:
		return val.String()
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = presanitize(inner)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = presanitize(inner)
		}
		return s
	}
	return v
}

func safeSprint(v any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("%T", v)
		}
	}()
	return fmt.Sprint(v)
}
