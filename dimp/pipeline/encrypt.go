package pipeline

import (
	"context"

	"github.com/TheusHen/dimp/dimp/crypto"
	"github.com/TheusHen/dimp/dimp/identity"
	"github.com/TheusHen/dimp/dimp/keycache"
	"github.com/TheusHen/dimp/dimp/message"
)

// Encrypt turns an instant message into a secure one.
//
// The conversation key is taken from the cache or created. A new key is
// encrypted for the receiver (or, when the receiver is a group, for every
// member) and attached; a reused key is not. Broadcast receivers get the
// content in the clear.
func (p *Pipeline) Encrypt(ctx context.Context, msg *message.InstantMessage) (*message.SecureMessage, error) {
	env := msg.Envelope
	switch {
	case env.Receiver.IsBroadcast():
		return p.encryptBroadcast(msg)
	case env.Receiver.IsGroup():
		if p.members == nil {
			return nil, p.fail(StageEncrypt, env, env.Receiver, ErrNoRecipientKey, errNoMembers)
		}
		members, err := p.members.Members(ctx, env.Receiver)
		if err != nil {
			return nil, p.fail(StageEncrypt, env, env.Receiver, ErrNoRecipientKey, err)
		}
		return p.EncryptForMembers(ctx, msg, members)
	default:
		return p.encrypt(ctx, msg, nil)
	}
}

// EncryptForMembers encrypts a group message, distributing a new key to each
// of members.
func (p *Pipeline) EncryptForMembers(ctx context.Context, msg *message.InstantMessage, members []identity.ID) (*message.SecureMessage, error) {
	if !msg.IsGroup() {
		return nil, p.fail(StageEncrypt, msg.Envelope, msg.Receiver, ErrNoRecipientKey, message.ErrNotGroupMessage)
	}
	if len(members) == 0 {
		return nil, p.fail(StageEncrypt, msg.Envelope, msg.Receiver, ErrNoRecipientKey, errNoMembers)
	}
	return p.encrypt(ctx, msg, members)
}

func (p *Pipeline) encrypt(ctx context.Context, msg *message.InstantMessage, members []identity.ID) (*message.SecureMessage, error) {
	env := msg.Envelope
	body, err := p.codec.Serialize(msg.Content)
	if err != nil {
		return nil, p.fail(StageEncrypt, env, env.Sender, ErrMalformedContent, err)
	}

	var (
		encKey  []byte
		encKeys map[string][]byte
		failed  error
	)
	// A new key is only installed once it has been encrypted for everybody, so
	// a failed distribution never leaves a key the receiver cannot know.
	entry, created, err := p.cache.Update(ctx, env.Sender, env.Conversation(), func(cur *keycache.Entry) (crypto.SymmetricKey, error) {
		if cur != nil {
			return cur.Key, nil
		}
		key, err := crypto.GenerateSymmetricKey(p.algorithm)
		if err != nil {
			failed = p.fail(StageEncrypt, env, env.Sender, ErrEncryption, err)
			return nil, failed
		}
		serialized, err := crypto.MarshalKey(key)
		if err != nil {
			failed = p.fail(StageEncrypt, env, env.Sender, ErrEncryption, err)
			return nil, failed
		}
		if members == nil {
			encKey, failed = p.encryptKeyFor(ctx, env, env.Receiver, serialized)
			if failed != nil {
				return nil, failed
			}
			return key, nil
		}
		encKeys = make(map[string][]byte, len(members))
		for _, member := range members {
			sealed, err := p.encryptKeyFor(ctx, env, member, serialized)
			if err != nil {
				failed = err
				return nil, err
			}
			encKeys[member.Bare().String()] = sealed
		}
		return key, nil
	})
	if err != nil {
		if failed != nil {
			return nil, failed
		}
		return nil, p.fail(StageEncrypt, env, env.Sender, ErrKeyNotFound, err)
	}
	if created {
		p.metrics.key("created")
	} else {
		p.metrics.key("reused")
	}

	data, err := entry.Key.Encrypt(body)
	if err != nil {
		return nil, p.fail(StageEncrypt, env, env.Sender, ErrEncryption, err)
	}
	p.done(StageEncrypt, env)
	return message.NewSecureMessage(env, data, encKey, encKeys), nil
}

func (p *Pipeline) encryptKeyFor(ctx context.Context, env message.Envelope, id identity.ID, serialized []byte) ([]byte, error) {
	pub, err := p.recipientKey(ctx, id)
	if err != nil {
		return nil, p.fail(StageEncrypt, env, id, ErrNoRecipientKey, err)
	}
	sealed, err := pub.Encrypt(serialized)
	if err != nil {
		return nil, p.fail(StageEncrypt, env, id, ErrEncryption, err)
	}
	return sealed, nil
}

func (p *Pipeline) encryptBroadcast(msg *message.InstantMessage) (*message.SecureMessage, error) {
	env := msg.Envelope
	body, err := p.codec.Serialize(msg.Content)
	if err != nil {
		return nil, p.fail(StageEncrypt, env, env.Sender, ErrMalformedContent, err)
	}
	data, err := crypto.PlainKey().Encrypt(body)
	if err != nil {
		return nil, p.fail(StageEncrypt, env, env.Sender, ErrEncryption, err)
	}
	p.done(StageEncrypt, env)
	return message.NewSecureMessage(env, data, nil, nil), nil
}
