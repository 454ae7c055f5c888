package entry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Change describes what happened to an entry.
type Change string

const (
	ChangeCreated Change = "created"
	ChangeUpdated Change = "updated"
	ChangeRemoved Change = "removed"
)

// Listener is notified after an entry change is persisted.
type Listener func(ctx context.Context, e Entry, change Change)

// Store persists config entries on local disk, one file per entry, and
// mirrors them to an optional blob store.
type Store struct {
	dir  string
	blob BlobStore
	now  func() time.Time

	mu        sync.Mutex
	listeners map[string][]Listener
}

func NewStore(dir string, blob BlobStore) *Store {
	return &Store{
		dir:       dir,
		blob:      blob,
		now:       time.Now,
		listeners: make(map[string][]Listener),
	}
}

// Subscribe registers a listener for entry changes in a domain.
func (s *Store) Subscribe(domain string, fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[domain] = append(s.listeners[domain], fn)
}

// Entries lists the entries of a domain, recovering them from the blob
// mirror when the local directory is empty.
func (s *Store) Entries(ctx context.Context, domain string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesLocked(ctx, domain)
}

func (s *Store) Get(ctx context.Context, domain, entryID string) (Entry, error) {
	entries, err := s.Entries(ctx, domain)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.EntryID == entryID {
			return e, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

// HasUniqueID reports whether an entry with the unique id exists in the domain.
func (s *Store) HasUniqueID(ctx context.Context, domain, uniqueID string) (bool, error) {
	if uniqueID == "" {
		return false, nil
	}
	entries, err := s.Entries(ctx, domain)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.UniqueID == uniqueID {
			return true, nil
		}
	}
	return false, nil
}

// Create persists a new entry and notifies listeners.
func (s *Store) Create(ctx context.Context, e Entry) (Entry, error) {
	if e.Domain == "" {
		return Entry{}, fmt.Errorf("entry domain is required")
	}
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	e.SchemaVersion = SchemaVersion
	now := s.now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	s.mu.Lock()
	if err := s.persistLocked(ctx, e); err != nil {
		s.mu.Unlock()
		return Entry{}, err
	}
	listeners := append([]Listener(nil), s.listeners[e.Domain]...)
	s.mu.Unlock()

	entriesCreated.WithLabelValues(e.Domain).Inc()
	for _, fn := range listeners {
		fn(ctx, e, ChangeCreated)
	}
	return e, nil
}

// UpdateOptions replaces an entry's options and notifies listeners.
func (s *Store) UpdateOptions(ctx context.Context, domain, entryID string, options map[string]int) (Entry, error) {
	s.mu.Lock()
	entries, err := s.entriesLocked(ctx, domain)
	if err != nil {
		s.mu.Unlock()
		return Entry{}, err
	}
	var (
		updated Entry
		found   bool
	)
	for _, e := range entries {
		if e.EntryID == entryID {
			updated, found = e, true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return Entry{}, ErrEntryNotFound
	}
	updated.Options = make(map[string]int, len(options))
	for key, value := range options {
		updated.Options[key] = value
	}
	updated.UpdatedAt = s.now().UTC()
	if err := s.persistLocked(ctx, updated); err != nil {
		s.mu.Unlock()
		return Entry{}, err
	}
	listeners := append([]Listener(nil), s.listeners[domain]...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, updated, ChangeUpdated)
	}
	return updated, nil
}

// Remove deletes an entry locally and from the mirror.
func (s *Store) Remove(ctx context.Context, domain, entryID string) error {
	s.mu.Lock()
	removed, err := LoadFile(s.path(domain, entryID))
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := os.Remove(s.path(domain, entryID)); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("remove entry: %w", err)
	}
	if s.blob != nil {
		if err := s.blob.Delete(ctx, domain, entryID); err != nil && !errors.Is(err, ErrBlobNotFound) {
			remotePersistOK.WithLabelValues(domain).Set(0)
		}
	}
	listeners := append([]Listener(nil), s.listeners[domain]...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, removed, ChangeRemoved)
	}
	return nil
}

func (s *Store) entriesLocked(ctx context.Context, domain string) ([]Entry, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, domain, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	entries := make([]Entry, 0, len(paths))
	for _, path := range paths {
		e, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if len(entries) == 0 && s.blob != nil {
		recovered, err := s.recoverLocked(ctx, domain)
		if err != nil {
			return nil, err
		}
		entries = recovered
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (s *Store) recoverLocked(ctx context.Context, domain string) ([]Entry, error) {
	blobs, err := s.blob.List(ctx, domain)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, nil
		}
		remotePersistOK.WithLabelValues(domain).Set(0)
		return nil, fmt.Errorf("recover entries: %w", err)
	}

	entries := make([]Entry, 0, len(blobs))
	for _, data := range blobs {
		e, err := Decode(data)
		if err != nil {
			return nil, err
		}
		if err := WriteFile(s.path(domain, e.EntryID), e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	entriesRecovered.WithLabelValues(domain).Add(float64(len(entries)))
	return entries, nil
}

func (s *Store) persistLocked(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if err := WriteFile(s.path(e.Domain, e.EntryID), e); err != nil {
		return err
	}
	if s.blob == nil {
		return nil
	}

	data, err := Encode(e)
	if err != nil {
		return err
	}
	if err := s.blob.Save(ctx, e.Domain, e.EntryID, data); err != nil {
		remotePersistOK.WithLabelValues(e.Domain).Set(0)
		return nil
	}
	remotePersistOK.WithLabelValues(e.Domain).Set(1)
	return nil
}

func (s *Store) path(domain, entryID string) string {
	return filepath.Join(s.dir, domain, entryID+".json")
}
