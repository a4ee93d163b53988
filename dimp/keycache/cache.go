// Package keycache remembers the symmetric key of every conversation.
//
// A conversation is (sender, receiver) for personal messages and
// (sender, group) for group messages. Entries have no expiry: they live until
// Clear or Reset. Each conversation has its own lock, so unrelated
// conversations never wait on each other.
package keycache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/TheusHen/dimp/dimp/crypto"
	"github.com/TheusHen/dimp/dimp/identity"
)

var (
	// ErrNotFound is returned by a Store that has no key for a conversation.
	ErrNotFound = errors.New("keycache: key not found")
	ErrNilKey   = errors.New("keycache: nil key")
)

// Store persists installed keys. The cache writes through to it and consults
// it on the first lookup of a conversation.
type Store interface {
	LoadCipherKey(ctx context.Context, sender, receiver identity.ID) (crypto.SymmetricKey, error)
	SaveCipherKey(ctx context.Context, sender, receiver identity.ID, key crypto.SymmetricKey) error
	DeleteCipherKey(ctx context.Context, sender, receiver identity.ID) error
}

type Entry struct {
	Key       crypto.SymmetricKey
	CreatedAt time.Time
}

type conversation struct {
	from, to identity.ID
}

type slot struct {
	mu     sync.Mutex
	entry  *Entry
	loaded bool
}

type Cache struct {
	mu    sync.Mutex
	slots map[conversation]*slot
	store Store
	now   func() time.Time
}

type Option func(*Cache)

// WithStore enables write-through persistence.
func WithStore(s Store) Option {
	return func(c *Cache) { c.store = s }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(opts ...Option) *Cache {
	c := &Cache{
		slots: map[conversation]*slot{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) slot(sender, receiver identity.ID) *slot {
	key := conversation{from: sender.Bare(), to: receiver.Bare()}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	if !ok {
		s = &slot{}
		c.slots[key] = s
	}
	return s
}

// load fills s from the store once. Callers hold s.mu.
func (c *Cache) load(ctx context.Context, s *slot, sender, receiver identity.ID) error {
	if s.loaded {
		return nil
	}
	if c.store != nil {
		key, err := c.store.LoadCipherKey(ctx, sender, receiver)
		switch {
		case err == nil:
			s.entry = &Entry{Key: key, CreatedAt: c.now()}
		case !errors.Is(err, ErrNotFound):
			return err
		}
	}
	s.loaded = true
	return nil
}

// Get returns the key of a conversation.
func (c *Cache) Get(ctx context.Context, sender, receiver identity.ID) (Entry, bool, error) {
	s := c.slot(sender, receiver)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := c.load(ctx, s, sender, receiver); err != nil {
		return Entry{}, false, err
	}
	if s.entry == nil {
		return Entry{}, false, nil
	}
	return *s.entry, true, nil
}

// Put installs key for a conversation, replacing any previous key.
func (c *Cache) Put(ctx context.Context, sender, receiver identity.ID, key crypto.SymmetricKey) error {
	_, _, err := c.Update(ctx, sender, receiver, func(*Entry) (crypto.SymmetricKey, error) {
		return key, nil
	})
	return err
}

// Clear drops the key of a conversation; the next outbound message creates a
// new one.
func (c *Cache) Clear(ctx context.Context, sender, receiver identity.ID) error {
	s := c.slot(sender, receiver)
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.store != nil {
		if err := c.store.DeleteCipherKey(ctx, sender, receiver); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	s.entry = nil
	s.loaded = true
	return nil
}

// Update runs fn inside the conversation's exclusive region. fn receives the
// current entry (nil if none) and returns the key the conversation should use.
// A key different from the current one is installed and persisted; installed
// reports whether that happened.
func (c *Cache) Update(ctx context.Context, sender, receiver identity.ID, fn func(current *Entry) (crypto.SymmetricKey, error)) (entry Entry, installed bool, err error) {
	s := c.slot(sender, receiver)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := c.load(ctx, s, sender, receiver); err != nil {
		return Entry{}, false, err
	}

	var current *Entry
	if s.entry != nil {
		cp := *s.entry
		current = &cp
	}
	key, err := fn(current)
	if err != nil {
		return Entry{}, false, err
	}
	if key == nil {
		return Entry{}, false, ErrNilKey
	}
	if current != nil && crypto.Equal(current.Key, key) {
		return *current, false, nil
	}

	if c.store != nil {
		if err := c.store.SaveCipherKey(ctx, sender, receiver, key); err != nil {
			return Entry{}, false, err
		}
	}
	s.entry = &Entry{Key: key, CreatedAt: c.now()}
	return *s.entry, true, nil
}

// Reset forgets every in-memory entry. Keys already persisted in a Store are
// loaded again on next use.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots = map[conversation]*slot{}
}

// Len returns the number of conversations holding a key.
func (c *Cache) Len() int {
	c.mu.Lock()
	slots := make([]*slot, 0, len(c.slots))
	for _, s := range c.slots {
		slots = append(slots, s)
	}
	c.mu.Unlock()

	n := 0
	for _, s := range slots {
		s.mu.Lock()
		if s.entry != nil {
			n++
		}
		s.mu.Unlock()
	}
	return n
}
