package destination

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the concurrency-safe destination list. It is never empty:
// removing the last record seeds a fresh default one.
type Store struct {
	mu       sync.RWMutex
	items    []Destination
	botToken string
	version  uint64
	newID    func() string
}

func NewStore() *Store {
	s := &Store{newID: uuid.NewString}
	s.items = []Destination{s.blank()}
	return s
}

func (s *Store) blank() Destination {
	return Destination{ID: s.newID(), Interval: DefaultInterval}
}

func (s *Store) touch() { s.version++ }

// Version increments on every mutation. Callers use it to detect edits
// without diffing the list.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Add appends a default destination and returns its id.
func (s *Store) Add() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.blank()
	s.items = append(s.items, d)
	s.touch()
	return d.ID
}

// Remove deletes id. It reports false for unknown ids.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	if len(s.items) == 0 {
		s.items = append(s.items, s.blank())
	}
	s.touch()
	return true
}

// Update applies p to id. The interval is normalized by NormalizeInterval.
func (s *Store) Update(id string, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	p.apply(&s.items[i])
	s.touch()
	return nil
}

// MarkSent records a successful delivery. Only the scheduler calls it.
func (s *Store) MarkSent(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	s.items[i].LastSentAt = at
	return nil
}

// List returns a copy of all destinations in creation order.
func (s *Store) List() []Destination {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Destination(nil), s.items...)
}

func (s *Store) Get(id string) (Destination, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Destination{}, false
	}
	return s.items[i], true
}

// Len is the number of destinations (always >= 1).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Credential is the Discord bot token used for channel-id destinations.
func (s *Store) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.botToken
}

func (s *Store) SetCredential(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.botToken = strings.TrimSpace(token)
	s.touch()
}

// Load replaces the contents with doc. Records without an id get one,
// duplicate ids are re-keyed, bad intervals are coerced. An empty
// document yields a single default destination.
func (s *Store) Load(doc Document) {
	items := make([]Destination, 0, len(doc.Destinations))
	seen := make(map[string]bool, len(doc.Destinations))
	for _, d := range doc.Destinations {
		if d.ID == "" || seen[d.ID] {
			d.ID = s.newID()
		}
		seen[d.ID] = true
		d.Interval = NormalizeInterval(d.Interval)
		items = append(items, d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(items) == 0 {
		items = append(items, s.blank())
	}
	s.items = items
	s.botToken = strings.TrimSpace(doc.BotToken)
	s.touch()
}

// Document snapshots the store for persistence.
func (s *Store) Document() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Document{BotToken: s.botToken, Destinations: append([]Destination(nil), s.items...)}
}

func (s *Store) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}
