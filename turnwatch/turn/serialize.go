package turn

import (
	"encoding/json"
	"fmt"
)

// MarshalEntry serialises a LogEntry to JSON.
func MarshalEntry(e LogEntry) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEntry deserialises a LogEntry from JSON. Entries without content
// are rejected: a sink never receives an empty turn.
func UnmarshalEntry(data []byte) (LogEntry, error) {
	var e LogEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return LogEntry{}, fmt.Errorf("turn: unmarshal: %w", err)
	}
	if e.Content == "" {
		return LogEntry{}, ErrEmptyContent
	}
	return e, nil
}
