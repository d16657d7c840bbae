package events

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Entry is one line of the journal.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Kind      Kind      `json:"kind"`
	Keychain  string    `json:"keychain,omitempty"`
	Key       string    `json:"key,omitempty"` // hex of store.PrimaryKey.Bytes
}

// Journal appends events to a file as newline-delimited JSON.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// OpenJournal creates or opens a journal file for appending.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening event journal: %w", err)
	}
	return &Journal{file: f, path: path}, nil
}

// Log writes one event.
func (j *Journal) Log(e Event) error {
	entry := Entry{
		Timestamp: e.Timestamp,
		Kind:      e.Kind,
		Keychain:  e.Keychain,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if !e.Key.IsZero() {
		entry.Key = hex.EncodeToString(e.Key.Bytes())
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling journal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing journal entry: %w", err)
	}
	return nil
}

// Post implements Notifier. Journal writes are best-effort; a failure is
// logged and the event is still delivered to other subscribers.
func (j *Journal) Post(e Event) {
	if err := j.Log(e); err != nil {
		slog.Warn("event journal write failed", "path", j.path, "error", err)
	}
}

// Close closes the journal file.
func (j *Journal) Close() error {
	return j.file.Close()
}

// ReadJournal returns the last n entries of the journal at path, oldest
// first. n <= 0 returns every entry.
func ReadJournal(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening event journal: %w", err)
	}
	defer f.Close()

	var entries []Entry
	dec := json.NewDecoder(f)
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("reading event journal: %w", err)
		}
		entries = append(entries, e)
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}
