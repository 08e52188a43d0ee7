package savestate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"chip8/pkg/cpu"
)

// MaxStoreBytes caps the combined size of all slots. A CHIP-8 snapshot
// compresses to a few kilobytes, so this leaves room for hundreds.
const MaxStoreBytes = 4 << 20

// Ext is appended to slot names when they are written to a host directory.
const Ext = ".state"

// validSlot is the regex for sanitizing slot names.
var validSlot = regexp.MustCompile(`^[a-zA-Z0-9_]{1,16}$`)

var (
	ErrSlotNotFound    = errors.New("slot not found")
	ErrInvalidSlotName = errors.New("invalid slot name")
	ErrQuotaExceeded   = errors.New("save-state quota exceeded")
)

type Slot struct {
	Data     []byte
	Created  time.Time
	Modified time.Time
}

// Store is an in-memory set of named save-state slots that can be
// mirrored to a host directory. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	slots     map[string]*Slot
	dirty     map[string]bool
	usedBytes int
}

func NewStore() *Store {
	return &Store{
		slots: make(map[string]*Slot),
		dirty: make(map[string]bool),
	}
}

// Write stores a copy of data under name, replacing any previous slot of
// the same name.
func (s *Store) Write(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validSlot.MatchString(name) {
		return ErrInvalidSlotName
	}

	oldSize := 0
	slot := s.slots[name]
	if slot != nil {
		oldSize = len(slot.Data)
	}

	newSize := len(data)
	if s.usedBytes-oldSize+newSize > MaxStoreBytes {
		return ErrQuotaExceeded
	}

	newData := make([]byte, newSize)
	copy(newData, data)

	now := time.Now()
	if slot == nil {
		slot = &Slot{Created: now}
		s.slots[name] = slot
	}
	slot.Data = newData
	slot.Modified = now

	s.dirty[name] = true
	s.usedBytes += newSize - oldSize
	return nil
}

func (s *Store) Read(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !validSlot.MatchString(name) {
		return nil, ErrInvalidSlotName
	}
	slot, ok := s.slots[name]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return slot.Data, nil
}

func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validSlot.MatchString(name) {
		return ErrInvalidSlotName
	}
	slot, ok := s.slots[name]
	if !ok {
		return ErrSlotNotFound
	}

	s.usedBytes -= len(slot.Data)
	delete(s.slots, name)
	// Still dirty so PersistTo removes the host file.
	s.dirty[name] = true
	return nil
}

// List returns the slot names in sorted order.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.slots))
	for k := range s.slots {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Meta returns the creation and modification time of a slot.
func (s *Store) Meta(name string) (time.Time, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !validSlot.MatchString(name) {
		return time.Time{}, time.Time{}, ErrInvalidSlotName
	}
	slot, ok := s.slots[name]
	if !ok {
		return time.Time{}, time.Time{}, ErrSlotNotFound
	}
	return slot.Created, slot.Modified, nil
}

func (s *Store) FreeSpace() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return MaxStoreBytes - s.usedBytes
}

// Dirty reports whether any slot changed since the last PersistTo.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty) > 0
}

// SaveCPU hibernates c into the named slot.
func (s *Store) SaveCPU(name string, c *cpu.CPU) error {
	data, err := c.HibernateToBytes()
	if err != nil {
		return fmt.Errorf("save %q: %w", name, err)
	}
	return s.Write(name, data)
}

// RestoreCPU restores c from the named slot.
func (s *Store) RestoreCPU(name string, c *cpu.CPU) error {
	data, err := s.Read(name)
	if err != nil {
		return err
	}
	if err := c.RestoreFromBytes(data); err != nil {
		return fmt.Errorf("restore %q: %w", name, err)
	}
	return nil
}

// LoadFrom populates the store from *.state files in dir. Files with
// invalid slot names are skipped. A missing directory is not an error.
func (s *Store) LoadFrom(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Ext) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), Ext)
		if !validSlot.MatchString(name) {
			continue
		}

		fullPath := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(fullPath)
		if err != nil {
			continue
		}
		if s.usedBytes+len(raw) > MaxStoreBytes {
			return ErrQuotaExceeded
		}

		slot := &Slot{Data: raw, Created: time.Now(), Modified: time.Now()}
		if info, err := entry.Info(); err == nil {
			slot.Created = info.ModTime()
			slot.Modified = info.ModTime()
		}

		if old, ok := s.slots[name]; ok {
			s.usedBytes -= len(old.Data)
		}
		s.slots[name] = slot
		s.usedBytes += len(raw)
	}

	return nil
}

// PersistTo writes every dirty slot to dir, creating it if needed, and
// removes the files of deleted slots. It returns the first error seen;
// slots that failed to write stay dirty.
func (s *Store) PersistTo(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Snapshot under the lock, then do I/O without it.
	s.mu.Lock()
	snapshot := make(map[string]Slot)
	var deleted []string
	for name := range s.dirty {
		if slot, ok := s.slots[name]; ok {
			data := make([]byte, len(slot.Data))
			copy(data, slot.Data)
			snapshot[name] = Slot{Data: data, Created: slot.Created, Modified: slot.Modified}
		} else {
			deleted = append(deleted, name)
		}
		delete(s.dirty, name)
	}
	s.mu.Unlock()

	var firstErr error

	for _, name := range deleted {
		err := os.Remove(filepath.Join(dir, name+Ext))
		if err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}

	for name, slot := range snapshot {
		path := filepath.Join(dir, name+Ext)
		if err := os.WriteFile(path, slot.Data, 0644); err != nil {
			s.mu.Lock()
			s.dirty[name] = true
			s.mu.Unlock()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		_ = os.Chtimes(path, time.Now(), slot.Modified)
	}

	return firstErr
}

// StartSyncer persists s to dir every interval until stop is closed, and
// once more on the way out. Errors go to onErr, which may be nil.
func (s *Store) StartSyncer(dir string, interval time.Duration, stop <-chan struct{}, onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	flush := func() {
		if !s.Dirty() {
			return
		}
		if err := s.PersistTo(dir); err != nil && onErr != nil {
			onErr(err)
		}
	}

	for {
		select {
		case <-ticker.C:
			flush()
		case <-stop:
			flush()
			return
		}
	}
}
