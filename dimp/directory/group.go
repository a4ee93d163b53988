package directory

import (
	"context"
	"errors"

	"github.com/TheusHen/dimp/dimp/identity"
)

var ErrNotFounder = errors.New("directory: not the founder of the group")

// MemberStore is a MemberSource whose rosters can be replaced.
type MemberStore interface {
	MemberSource
	SetMembers(ctx context.Context, group identity.ID, members []identity.ID) error
}

// CheckFounder verifies the ownership chain from founder to group: both metas
// bind to their IDs and the group meta publishes the founder's key.
func (b *Barrack) CheckFounder(ctx context.Context, founder, group identity.ID) error {
	if !group.IsGroup() {
		return ErrNotFounder
	}
	member, err := b.Meta(ctx, founder)
	if err != nil {
		return err
	}
	owner, err := b.Meta(ctx, group)
	if err != nil {
		return err
	}
	if !identity.VerifyFounder(founder.Bare(), member, group.Bare(), owner) {
		return ErrNotFounder
	}
	return nil
}

// SetMembers replaces the roster of group on behalf of founder. The founder is
// always kept in the roster.
func (b *Barrack) SetMembers(ctx context.Context, store MemberStore, founder, group identity.ID, members []identity.ID) error {
	if err := b.CheckFounder(ctx, founder, group); err != nil {
		return err
	}
	roster := []identity.ID{founder.Bare()}
	for _, m := range members {
		if !m.Bare().Equal(roster[0]) {
			roster = append(roster, m.Bare())
		}
	}
	return store.SetMembers(ctx, group, roster)
}
