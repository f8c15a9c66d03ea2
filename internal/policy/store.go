package policy

import (
	"errors"
	"os"
	"sync"
)

// Subscriber is notified with the old and new policy sets after every
// successful mutation. Subscribers run synchronously, in registration
// order, while the store's lock is held — they must not call back into
// the store.
type Subscriber func(old, new *Set)

// Store is the single owner of the live policy document. All reads and
// writes go through it, so the lifecycle manager, the OS config writer,
// and the command sync never reach into the document directly: one lock,
// one persistence path, one explicit subscriber list.
type Store struct {
	mu          sync.Mutex
	path        string
	current     *Set
	subscribers []Subscriber
}

// NewStore loads the policy set from path (creating an empty one if the
// file does not exist) and returns a Store bound to it.
func NewStore(path string) (*Store, error) {
	set, err := LoadSet(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		set = &Set{}
	}
	return &Store{path: path, current: set}, nil
}

// Subscribe registers a subscriber invoked after every successful Mutate.
func (s *Store) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// Current returns a deep copy of the live policy set.
func (s *Store) Current() *Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.DeepCopy()
}

// Mutate replaces the policy set under lock: fn receives a deep copy of the
// current set and returns the new one. On success the new set is persisted
// to disk and every subscriber is invoked with (old, new) before Mutate
// returns. A non-nil error from fn, validation, or persistence aborts the
// mutation and leaves the store unchanged.
func (s *Store) Mutate(fn func(current *Set) (*Set, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.DeepCopy()
	next, err := fn(old.DeepCopy())
	if err != nil {
		return err
	}
	if err := ValidateSet(next); err != nil {
		return err
	}
	if s.path != "" {
		if err := SaveSet(s.path, next); err != nil {
			return err
		}
	}
	s.current = next
	for _, sub := range s.subscribers {
		sub(old, next)
	}
	return nil
}
