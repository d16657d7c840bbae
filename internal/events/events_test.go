package events

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benaskins/keycache/internal/store"
)

func TestHistoryBasic(t *testing.T) {
	h := NewHistory(5)
	h.Post(Event{Kind: KindAdd})
	h.Post(Event{Kind: KindUpdate})
	h.Post(Event{Kind: KindDelete})

	kinds := h.Kinds()
	if len(kinds) != 3 {
		t.Fatalf("expected 3 events, got %d", len(kinds))
	}
	if kinds[0] != KindAdd || kinds[1] != KindUpdate || kinds[2] != KindDelete {
		t.Errorf("unexpected kinds: %v", kinds)
	}
}

func TestHistoryOverflow(t *testing.T) {
	h := NewHistory(3)
	for _, k := range []Kind{KindLock, KindUnlock, KindAdd, KindUpdate, KindDelete} {
		h.Post(Event{Kind: k})
	}

	kinds := h.Kinds()
	if len(kinds) != 3 {
		t.Fatalf("expected 3 events, got %d", len(kinds))
	}
	if kinds[0] != KindAdd || kinds[1] != KindUpdate || kinds[2] != KindDelete {
		t.Errorf("expected [add update delete], got %v", kinds)
	}
}

func TestHistoryLast(t *testing.T) {
	h := NewHistory(10)
	h.Post(Event{Kind: KindAdd})
	h.Post(Event{Kind: KindDelete})

	if got := h.Last(1); len(got) != 1 || got[0].Kind != KindDelete {
		t.Errorf("expected [delete], got %v", got)
	}
	if got := h.Last(5); len(got) != 2 {
		t.Errorf("expected 2 events, got %d", len(got))
	}
}

func TestHistoryReset(t *testing.T) {
	h := NewHistory(2)
	h.Post(Event{Kind: KindAdd})
	h.Post(Event{Kind: KindAdd})
	h.Post(Event{Kind: KindAdd})
	h.Reset()

	if got := h.Events(); len(got) != 0 {
		t.Errorf("expected empty after reset, got %v", got)
	}
}

func TestBusDeliversInOrderAndStamps(t *testing.T) {
	h1 := NewHistory(10)
	h2 := NewHistory(10)
	b := NewBus(h1, h2)

	b.Post(Event{Kind: KindAdd, Keychain: "login"})

	for i, h := range []*History{h1, h2} {
		evs := h.Events()
		if len(evs) != 1 {
			t.Fatalf("subscriber %d: expected 1 event, got %d", i, len(evs))
		}
		if evs[0].Timestamp.IsZero() {
			t.Errorf("subscriber %d: expected bus to stamp the event", i)
		}
		if evs[0].Keychain != "login" {
			t.Errorf("subscriber %d: expected keychain login, got %q", i, evs[0].Keychain)
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	h := NewHistory(10)
	b := NewBus()
	unsubscribe := b.Subscribe(h)

	b.Post(Event{Kind: KindAdd})
	unsubscribe()
	b.Post(Event{Kind: KindDelete})

	if kinds := h.Kinds(); len(kinds) != 1 || kinds[0] != KindAdd {
		t.Errorf("expected only the event before unsubscribe, got %v", kinds)
	}
}

func TestJournalWritesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	defer j.Close()

	ts := time.Date(2026, 2, 19, 10, 30, 0, 0, time.UTC)
	key := store.MakePrimaryKey(store.GenericPassword,
		store.Attributes{store.AttrAccount: []byte("alice")},
		[]store.AttrID{store.AttrAccount})

	j.Post(Event{Timestamp: ts, Kind: KindAdd, Keychain: "login", Key: key})
	j.Post(Event{Timestamp: ts.Add(time.Hour), Kind: KindLeaveBatch, Keychain: "login"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var e1 Entry
	json.Unmarshal([]byte(lines[0]), &e1)
	if e1.Kind != KindAdd {
		t.Errorf("expected add, got %v", e1.Kind)
	}
	if e1.Key != hex.EncodeToString(key.Bytes()) {
		t.Errorf("expected encoded key, got %q", e1.Key)
	}
	if !e1.Timestamp.Equal(ts) {
		t.Errorf("expected %v, got %v", ts, e1.Timestamp)
	}

	var e2 Entry
	json.Unmarshal([]byte(lines[1]), &e2)
	if e2.Key != "" {
		t.Errorf("keychain-wide events carry no key, got %q", e2.Key)
	}
}

func TestJournalAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")

	j1, _ := OpenJournal(path)
	j1.Post(Event{Kind: KindAdd})
	j1.Close()

	j2, _ := OpenJournal(path)
	j2.Post(Event{Kind: KindDelete})
	j2.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 lines after reopen, got %d", len(lines))
	}
}

func TestReadJournalLast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	for _, k := range []Kind{KindLock, KindAdd, KindUnlock} {
		j.Post(Event{Kind: k, Keychain: "memory:login"})
	}
	j.Close()

	all, err := ReadJournal(path, 0)
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}

	last, err := ReadJournal(path, 2)
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if len(last) != 2 || last[0].Kind != KindAdd || last[1].Kind != KindUnlock {
		t.Errorf("unexpected entries %+v", last)
	}

	if _, err := ReadJournal(filepath.Join(t.TempDir(), "missing"), 0); err == nil {
		t.Error("expected error for missing journal")
	}
}
