package pipeline

import (
	"context"
	"errors"

	"github.com/TheusHen/dimp/dimp/crypto"
	"github.com/TheusHen/dimp/dimp/keycache"
	"github.com/TheusHen/dimp/dimp/message"
)

var errNoDecryptionKey = errors.New("no private key could decrypt the message key")

// Decrypt turns a secure message back into an instant one.
//
// If the message carries a key for its receiver, that key is decrypted with
// the receiver's private keys (newest first) and installed for the
// conversation; otherwise the cached key is used. A delivered key is only
// installed if it actually decrypts the data.
//
// The pipeline does not know which member it runs for: a message addressed to
// a group must be trimmed with Trim first, otherwise ErrUntrimmed.
func (p *Pipeline) Decrypt(ctx context.Context, msg *message.SecureMessage) (*message.InstantMessage, error) {
	env := msg.Envelope
	if env.Receiver.IsBroadcast() {
		return p.parse(env, msg.Data)
	}
	if env.Receiver.IsGroup() {
		return nil, p.fail(StageDecrypt, env, env.Receiver, ErrUntrimmed, nil)
	}

	encKey := msg.EncryptedKeyFor(env.Receiver)
	var (
		body   []byte
		failed error
	)
	_, installed, err := p.cache.Update(ctx, env.Sender, env.Conversation(), func(cur *keycache.Entry) (crypto.SymmetricKey, error) {
		if len(encKey) > 0 {
			key, err := p.decryptKey(ctx, env, encKey)
			if err != nil {
				failed = err
				return nil, err
			}
			body, err = key.Decrypt(msg.Data)
			if err != nil {
				failed = p.fail(StageDecrypt, env, env.Sender, ErrDecryption, err)
				return nil, failed
			}
			return key, nil
		}
		if cur == nil {
			failed = p.fail(StageDecrypt, env, env.Sender, ErrKeyNotFound, nil)
			return nil, failed
		}
		var err error
		body, err = cur.Key.Decrypt(msg.Data)
		if err != nil {
			failed = p.fail(StageDecrypt, env, env.Sender, ErrDecryption, err)
			return nil, failed
		}
		return cur.Key, nil
	})
	if err != nil {
		if failed != nil {
			return nil, failed
		}
		return nil, p.fail(StageDecrypt, env, env.Sender, ErrKeyNotFound, err)
	}
	if installed {
		p.metrics.key("installed")
	} else {
		p.metrics.key("reused")
	}
	return p.parse(env, body)
}

func (p *Pipeline) parse(env message.Envelope, body []byte) (*message.InstantMessage, error) {
	c, err := p.codec.Parse(body)
	if err != nil {
		return nil, p.fail(StageDecrypt, env, env.Sender, ErrMalformedContent, err)
	}
	p.done(StageDecrypt, env)
	return message.NewInstantMessage(env, c), nil
}

// decryptKey tries the receiver's private keys in order.
func (p *Pipeline) decryptKey(ctx context.Context, env message.Envelope, encKey []byte) (crypto.SymmetricKey, error) {
	receiver := env.Receiver
	privs, err := p.keys.PrivateKeysForDecryption(ctx, receiver)
	if err != nil {
		return nil, p.fail(StageDecrypt, env, receiver, ErrDecryption, err)
	}
	for _, priv := range privs {
		serialized, err := priv.Decrypt(encKey)
		if err != nil {
			continue
		}
		key, err := crypto.UnmarshalSymmetricKey(serialized)
		if err != nil {
			return nil, p.fail(StageDecrypt, env, receiver, ErrDecryption, err)
		}
		return key, nil
	}
	return nil, p.fail(StageDecrypt, env, receiver, ErrDecryption, errNoDecryptionKey)
}
