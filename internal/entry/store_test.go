package entry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type memoryBlob struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

func newMemoryBlob() *memoryBlob {
	return &memoryBlob{data: make(map[string]map[string][]byte)}
}

func (m *memoryBlob) List(_ context.Context, domain string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.data[domain]) == 0 {
		return nil, ErrBlobNotFound
	}
	out := make([][]byte, 0, len(m.data[domain]))
	for _, data := range m.data[domain] {
		out = append(out, append([]byte(nil), data...))
	}
	return out, nil
}

func (m *memoryBlob) Save(_ context.Context, domain, entryID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[domain] == nil {
		m.data[domain] = make(map[string][]byte)
	}
	m.data[domain][entryID] = append([]byte(nil), data...)
	return nil
}

func (m *memoryBlob) Delete(_ context.Context, domain, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[domain], entryID)
	return nil
}

func TestCreateWritesPrivateFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)

	created, err := store.Create(context.Background(), Entry{
		Domain:   "electrasmart",
		Title:    "Electra Smart",
		UniqueID: "+972501234567",
		Data:     map[string]string{"phone_number": "+972501234567"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.EntryID == "" {
		t.Fatalf("expected entry id")
	}

	info, err := os.Stat(filepath.Join(dir, "electrasmart", created.EntryID+".json"))
	if err != nil {
		t.Fatalf("stat entry: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected perms: %v", info.Mode().Perm())
	}

	exists, err := store.HasUniqueID(context.Background(), "electrasmart", "+972501234567")
	if err != nil {
		t.Fatalf("HasUniqueID: %v", err)
	}
	if !exists {
		t.Fatalf("expected unique id to exist")
	}
}

func TestLoadFileRejectsLoosePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entry.json")
	if err := WriteFile(path, Entry{EntryID: "a", Domain: "electrasmart"}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected permission error")
	}
}

func TestEntriesRecoverFromBlob(t *testing.T) {
	blob := newMemoryBlob()
	first := NewStore(t.TempDir(), blob)
	created, err := first.Create(context.Background(), Entry{Domain: "electrasmart", Title: "AC"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	second := NewStore(t.TempDir(), blob)
	entries, err := second.Entries(context.Background(), "electrasmart")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].EntryID != created.EntryID {
		t.Fatalf("unexpected recovered entries: %+v", entries)
	}
}

func TestUpdateOptionsNotifiesListeners(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	created, err := store.Create(context.Background(), Entry{Domain: "electrasmart"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var got []Change
	store.Subscribe("electrasmart", func(_ context.Context, e Entry, change Change) {
		if e.EntryID != created.EntryID {
			t.Errorf("unexpected entry: %s", e.EntryID)
		}
		got = append(got, change)
	})

	updated, err := store.UpdateOptions(context.Background(), "electrasmart", created.EntryID, map[string]int{"scan_interval": 60})
	if err != nil {
		t.Fatalf("UpdateOptions: %v", err)
	}
	if updated.Option("scan_interval", 30) != 60 {
		t.Fatalf("unexpected option: %+v", updated.Options)
	}
	if err := store.Remove(context.Background(), "electrasmart", created.EntryID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(got) != 2 || got[0] != ChangeUpdated || got[1] != ChangeRemoved {
		t.Fatalf("unexpected changes: %v", got)
	}

	if _, err := store.UpdateOptions(context.Background(), "electrasmart", created.EntryID, nil); err != ErrEntryNotFound {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}
