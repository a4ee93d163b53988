package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/TheusHen/dimp/dimp/crypto"
	"github.com/TheusHen/dimp/dimp/directory"
	"github.com/TheusHen/dimp/dimp/identity"
)

// Store is an in-memory directory: metas, private keys and group members.
// It is useful for tests, examples and embedding in applications.
type Store struct {
	mu          sync.RWMutex
	metas       map[identity.ID]identity.Meta
	signKeys    map[identity.ID]crypto.PrivateKey
	decryptKeys map[identity.ID][]crypto.PrivateKey
	members     map[identity.ID][]identity.ID
}

func New() *Store {
	return &Store{
		metas:       map[identity.ID]identity.Meta{},
		signKeys:    map[identity.ID]crypto.PrivateKey{},
		decryptKeys: map[identity.ID][]crypto.PrivateKey{},
		members:     map[identity.ID][]identity.ID{},
	}
}

// SaveMeta stores meta if it binds to id.
func (s *Store) SaveMeta(_ context.Context, id identity.ID, meta identity.Meta) error {
	if err := directory.CheckMeta(id, meta); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas[id.Bare()] = meta
	return nil
}

func (s *Store) Meta(_ context.Context, id identity.ID) (identity.Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.metas[id.Bare()]
	if !ok {
		return identity.Meta{}, directory.ErrNotFound
	}
	return meta, nil
}

// SavePrivateKey records a key of id. The signing key is also the first
// decryption key; other keys are kept for decrypting older messages.
func (s *Store) SavePrivateKey(_ context.Context, id identity.ID, key crypto.PrivateKey, signing bool) error {
	id = id.Bare()
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.decryptKeys[id]
	for i, k := range keys {
		if crypto.Equal(k, key) {
			keys = append(keys[:i:i], keys[i+1:]...)
			break
		}
	}
	if signing {
		s.signKeys[id] = key
		keys = append([]crypto.PrivateKey{key}, keys...)
	} else {
		keys = append(keys, key)
	}
	s.decryptKeys[id] = keys
	return nil
}

func (s *Store) PrivateKeyForSignature(_ context.Context, id identity.ID) (crypto.PrivateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.signKeys[id.Bare()]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return key, nil
}

func (s *Store) PrivateKeysForDecryption(_ context.Context, id identity.ID) ([]crypto.PrivateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.decryptKeys[id.Bare()]
	if len(keys) == 0 {
		return nil, directory.ErrNotFound
	}
	out := make([]crypto.PrivateKey, len(keys))
	copy(out, keys)
	return out, nil
}

func (s *Store) SetMembers(_ context.Context, group identity.ID, members []identity.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyMembers := make([]identity.ID, len(members))
	for i, m := range members {
		copyMembers[i] = m.Bare()
	}
	s.members[group.Bare()] = copyMembers
	return nil
}

func (s *Store) Members(_ context.Context, group identity.ID) ([]identity.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members, ok := s.members[group.Bare()]
	if !ok {
		return nil, directory.ErrNotFound
	}
	out := make([]identity.ID, len(members))
	copy(out, members)
	return out, nil
}

// IDs lists every ID with a stored meta, sorted by string form.
func (s *Store) IDs() []identity.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]identity.ID, 0, len(s.metas))
	for id := range s.metas {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
