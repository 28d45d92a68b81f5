package log

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// TextFormatter renders entries as a human-readable line:
//
//	2026-01-02T15:04:05.000Z INFO  message key=value ...
type TextFormatter struct {
	// DisableTimestamp omits the timestamp column (useful in tests).
	DisableTimestamp bool
}

// Format renders the entry as a single text line.
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var b strings.Builder
	if !f.DisableTimestamp {
		b.WriteString(entry.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"))
		b.WriteByte(' ')
	}
	b.WriteString(fmt.Sprintf("%-5s", entry.Level.String()))
	b.WriteByte(' ')
	b.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte(' ')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(fmt.Sprintf("%v", entry.Fields[k]))
		}
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// JSONFormatter renders entries as single-line JSON objects.
type JSONFormatter struct{}

// Format renders the entry as JSON.
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	obj := map[string]interface{}{
		"ts":    entry.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		"level": entry.Level.String(),
		"msg":   entry.Message,
	}
	for k, v := range entry.Fields {
		obj[k] = v
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
