package directory

import (
	"context"
	"sync"

	"github.com/TheusHen/dimp/dimp/identity"
)

// Barrack is the arena of verified metas. Meta fetches from the underlying
// source on first use, checks the binding once and serves the cached value
// afterwards. Entries never change once created.
type Barrack struct {
	source MetaSource

	mu    sync.RWMutex
	metas map[identity.ID]identity.Meta
}

func NewBarrack(source MetaSource) *Barrack {
	return &Barrack{source: source, metas: map[identity.ID]identity.Meta{}}
}

// Meta returns the verified meta of id, fetching it if needed.
func (b *Barrack) Meta(ctx context.Context, id identity.ID) (identity.Meta, error) {
	id = id.Bare()
	b.mu.RLock()
	meta, ok := b.metas[id]
	b.mu.RUnlock()
	if ok {
		return meta, nil
	}

	meta, err := b.source.Meta(ctx, id)
	if err != nil {
		return identity.Meta{}, err
	}
	if err := CheckMeta(id, meta); err != nil {
		return identity.Meta{}, err
	}
	return b.remember(id, meta), nil
}

// SaveMeta verifies meta, writes it through to the source when it is a
// MetaStore and caches it.
func (b *Barrack) SaveMeta(ctx context.Context, id identity.ID, meta identity.Meta) error {
	id = id.Bare()
	if err := CheckMeta(id, meta); err != nil {
		return err
	}
	if store, ok := b.source.(MetaStore); ok {
		if err := store.SaveMeta(ctx, id, meta); err != nil {
			return err
		}
	}
	b.remember(id, meta)
	return nil
}

// remember keeps the first meta cached for id.
func (b *Barrack) remember(id identity.ID, meta identity.Meta) identity.Meta {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.metas[id]; ok {
		return existing
	}
	b.metas[id] = meta
	return meta
}

// Forget drops id from the arena.
func (b *Barrack) Forget(id identity.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.metas, id.Bare())
}

func (b *Barrack) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.metas)
}
