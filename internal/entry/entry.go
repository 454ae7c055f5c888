package entry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const SchemaVersion = 1

var ErrEntryNotFound = errors.New("config entry not found")

// Entry is the persisted result of a completed setup flow.
type Entry struct {
	SchemaVersion int               `json:"schema_version"`
	EntryID       string            `json:"entry_id"`
	Domain        string            `json:"domain"`
	Title         string            `json:"title"`
	UniqueID      string            `json:"unique_id,omitempty"`
	Data          map[string]string `json:"data"`
	Options       map[string]int    `json:"options,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Option returns an integer option or the fallback when unset.
func (e Entry) Option(key string, fallback int) int {
	if value, ok := e.Options[key]; ok {
		return value
	}
	return fallback
}

func (e Entry) Validate() error {
	if e.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version: %d", e.SchemaVersion)
	}
	if e.EntryID == "" {
		return fmt.Errorf("entry missing entry_id")
	}
	if e.Domain == "" {
		return fmt.Errorf("entry missing domain")
	}
	return nil
}

func Decode(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func Encode(e Entry) ([]byte, error) {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	return data, nil
}

// LoadFile reads an entry and checks the file is private to this user.
func LoadFile(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, fmt.Errorf("read entry: %w", err)
	}
	if err := checkEntryFile(path); err != nil {
		return Entry{}, err
	}
	return Decode(data)
}

func WriteFile(path string, e Entry) error {
	if e.SchemaVersion == 0 {
		e.SchemaVersion = SchemaVersion
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir entry dir: %w", err)
	}
	data, err := Encode(e)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace entry: %w", err)
	}
	return nil
}

func checkEntryFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o600 {
		return fmt.Errorf("entry file %s must have 0600 permissions", path)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Geteuid() {
			return fmt.Errorf("entry file %s must be owned by uid %d", path, os.Geteuid())
		}
	}
	return nil
}
