// Package directory defines where the pipeline looks up metas, private keys
// and group members, and provides the Barrack that memoizes verified metas.
package directory

import (
	"context"
	"errors"

	"github.com/TheusHen/dimp/dimp/crypto"
	"github.com/TheusHen/dimp/dimp/identity"
)

var (
	ErrNotFound     = errors.New("directory: not found")
	ErrMetaMismatch = errors.New("directory: meta does not match ID")
)

// MetaSource resolves the meta of an ID. It returns ErrNotFound when the meta
// is unknown.
type MetaSource interface {
	Meta(ctx context.Context, id identity.ID) (identity.Meta, error)
}

// MetaStore is a MetaSource that accepts new metas.
type MetaStore interface {
	MetaSource
	SaveMeta(ctx context.Context, id identity.ID, meta identity.Meta) error
}

// PrivateKeySource holds the private keys of local identities.
type PrivateKeySource interface {
	PrivateKeyForSignature(ctx context.Context, id identity.ID) (crypto.PrivateKey, error)
	// PrivateKeysForDecryption returns the keys to try, newest first.
	PrivateKeysForDecryption(ctx context.Context, id identity.ID) ([]crypto.PrivateKey, error)
}

// MemberSource lists the members of a group.
type MemberSource interface {
	Members(ctx context.Context, group identity.ID) ([]identity.ID, error)
}

// CheckMeta returns ErrMetaMismatch unless meta binds to id.
func CheckMeta(id identity.ID, meta identity.Meta) error {
	if !meta.MatchID(id) {
		return ErrMetaMismatch
	}
	return nil
}
