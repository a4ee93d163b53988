// Package badgerdb is a persistent directory on top of badger: metas, private
// keys, group members and conversation keys.
package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/dimp/dimp/crypto"
	"github.com/TheusHen/dimp/dimp/directory"
	"github.com/TheusHen/dimp/dimp/identity"
	"github.com/TheusHen/dimp/dimp/keycache"
)

const (
	prefixMeta    = "meta/"
	prefixSign    = "key/sign/"
	prefixDecrypt = "key/decrypt/"
	prefixMembers = "members/"
	prefixCipher  = "cipher/"
	keyLocal      = "local"
)

type Config struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	Logger   *logrus.Logger
}

type Store struct {
	db  *badger.DB
	log *logrus.Logger
}

func Open(config Config) (*Store, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Path == "" && !config.InMemory {
		return nil, errors.New("badgerdb: path is required")
	}

	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(config.Logger.WithField("component", "badger"))

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerdb: open %q: %w", config.Path, err)
	}
	config.Logger.WithFields(logrus.Fields{
		"path":      config.Path,
		"in_memory": config.InMemory,
	}).Debug("directory opened")
	return &Store{db: db, log: config.Logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func idKey(prefix string, id identity.ID) []byte {
	return []byte(prefix + id.Bare().String())
}

func cipherKey(sender, receiver identity.ID) []byte {
	return []byte(prefixCipher + sender.Bare().String() + "|" + receiver.Bare().String())
}

func (s *Store) get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, directory.ErrNotFound
	}
	return value, err
}

func (s *Store) set(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// SaveMeta stores meta if it binds to id.
func (s *Store) SaveMeta(_ context.Context, id identity.ID, meta identity.Meta) error {
	if err := directory.CheckMeta(id, meta); err != nil {
		return err
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.set(idKey(prefixMeta, id), raw)
}

func (s *Store) Meta(_ context.Context, id identity.ID) (identity.Meta, error) {
	raw, err := s.get(idKey(prefixMeta, id))
	if err != nil {
		return identity.Meta{}, err
	}
	var meta identity.Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		s.log.WithError(err).WithField("id", id.String()).Warn("stored meta is unreadable")
		return identity.Meta{}, err
	}
	return meta, nil
}

// SavePrivateKey records a key of id. The signing key is also the first
// decryption key; other keys are appended for decrypting older messages.
func (s *Store) SavePrivateKey(_ context.Context, id identity.ID, key crypto.PrivateKey, signing bool) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var infos []crypto.KeyInfo
		item, err := txn.Get(idKey(prefixDecrypt, id))
		switch {
		case err == nil:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(raw, &infos); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		info := crypto.Info(key)
		kept := infos[:0]
		for _, existing := range infos {
			if existing.Algorithm != info.Algorithm || string(existing.Data) != string(info.Data) {
				kept = append(kept, existing)
			}
		}
		if signing {
			kept = append([]crypto.KeyInfo{info}, kept...)
			raw, err := crypto.MarshalKey(key)
			if err != nil {
				return err
			}
			if err := txn.Set(idKey(prefixSign, id), raw); err != nil {
				return err
			}
		} else {
			kept = append(kept, info)
		}

		raw, err := json.Marshal(kept)
		if err != nil {
			return err
		}
		return txn.Set(idKey(prefixDecrypt, id), raw)
	})
}

func (s *Store) PrivateKeyForSignature(_ context.Context, id identity.ID) (crypto.PrivateKey, error) {
	raw, err := s.get(idKey(prefixSign, id))
	if err != nil {
		return nil, err
	}
	return crypto.UnmarshalPrivateKey(raw)
}

func (s *Store) PrivateKeysForDecryption(_ context.Context, id identity.ID) ([]crypto.PrivateKey, error) {
	raw, err := s.get(idKey(prefixDecrypt, id))
	if err != nil {
		return nil, err
	}
	var infos []crypto.KeyInfo
	if err := json.Unmarshal(raw, &infos); err != nil {
		return nil, err
	}
	keys := make([]crypto.PrivateKey, 0, len(infos))
	for _, info := range infos {
		key, err := crypto.ParsePrivateKey(info)
		if err != nil {
			s.log.WithError(err).WithField("id", id.String()).Warn("skipping unreadable private key")
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, directory.ErrNotFound
	}
	return keys, nil
}

func (s *Store) SetMembers(_ context.Context, group identity.ID, members []identity.ID) error {
	raw, err := json.Marshal(members)
	if err != nil {
		return err
	}
	return s.set(idKey(prefixMembers, group), raw)
}

func (s *Store) Members(_ context.Context, group identity.ID) ([]identity.ID, error) {
	raw, err := s.get(idKey(prefixMembers, group))
	if err != nil {
		return nil, err
	}
	var members []identity.ID
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// IDs lists every ID with a stored meta, in key order.
func (s *Store) IDs() ([]identity.ID, error) {
	var out []identity.ID
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixMeta)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(opts.Prefix); it.Next() {
			key := strings.TrimPrefix(string(it.Item().Key()), prefixMeta)
			id, err := identity.ParseID(key)
			if err != nil {
				return err
			}
			out = append(out, id)
		}
		return nil
	})
	return out, err
}

func (s *Store) LoadCipherKey(_ context.Context, sender, receiver identity.ID) (crypto.SymmetricKey, error) {
	raw, err := s.get(cipherKey(sender, receiver))
	if errors.Is(err, directory.ErrNotFound) {
		return nil, keycache.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return crypto.UnmarshalSymmetricKey(raw)
}

func (s *Store) SaveCipherKey(_ context.Context, sender, receiver identity.ID, key crypto.SymmetricKey) error {
	raw, err := crypto.MarshalKey(key)
	if err != nil {
		return err
	}
	return s.set(cipherKey(sender, receiver), raw)
}

func (s *Store) DeleteCipherKey(_ context.Context, sender, receiver identity.ID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(cipherKey(sender, receiver))
	})
}

// SetLocalID records which stored identity this node acts as.
func (s *Store) SetLocalID(id identity.ID) error {
	if _, err := s.Meta(context.Background(), id); err != nil {
		return fmt.Errorf("badgerdb: local id needs a stored meta: %w", err)
	}
	return s.set([]byte(keyLocal), []byte(id.String()))
}

// LocalID returns the identity set by SetLocalID, or directory.ErrNotFound.
func (s *Store) LocalID() (identity.ID, error) {
	raw, err := s.get([]byte(keyLocal))
	if err != nil {
		return identity.ID{}, err
	}
	return identity.ParseID(string(raw))
}

var (
	_ directory.MetaStore        = (*Store)(nil)
	_ directory.PrivateKeySource = (*Store)(nil)
	_ directory.MemberStore      = (*Store)(nil)
	_ keycache.Store             = (*Store)(nil)
)
