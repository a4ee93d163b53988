package pipeline

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/dimp/dimp/directory"
	"github.com/TheusHen/dimp/dimp/identity"
	"github.com/TheusHen/dimp/dimp/message"
)

var errEmptySignature = errors.New("signature is empty")

// Sign signs Data || Key with the sender's private key.
func (p *Pipeline) Sign(ctx context.Context, msg *message.SecureMessage) (*message.ReliableMessage, error) {
	env := msg.Envelope
	priv, err := p.keys.PrivateKeyForSignature(ctx, env.Sender)
	if err != nil {
		return nil, p.fail(StageSign, env, env.Sender, ErrSigning, err)
	}
	sig, err := priv.Sign(msg.SigningBytes())
	if err != nil {
		return nil, p.fail(StageSign, env, env.Sender, ErrSigning, err)
	}

	secure := msg
	if p.attachMeta && msg.Meta == nil && (len(msg.Key) > 0 || len(msg.Keys) > 0) {
		if meta, err := p.metas.Meta(ctx, env.Sender); err == nil {
			secure = msg.WithMeta(meta)
		} else {
			p.log.WithError(err).WithField("sender", env.Sender.String()).Debug("sender meta not attached")
		}
	}
	p.done(StageSign, env)
	return message.NewReliableMessage(secure, sig), nil
}

// Verify checks the signature of msg against the sender's meta.
//
// The meta comes from the directory. A meta attached to the message is only
// used when the directory does not know the sender, and only if it binds to
// the sender ID; it is saved once the signature checks out.
func (p *Pipeline) Verify(ctx context.Context, msg *message.ReliableMessage) (*message.SecureMessage, error) {
	env := msg.Envelope
	if len(msg.Signature) == 0 {
		return nil, p.fail(StageVerify, env, env.Sender, ErrInvalidSignature, errEmptySignature)
	}

	meta, fresh, err := p.senderMeta(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !meta.Key.Verify(msg.SigningBytes(), msg.Signature) {
		return nil, p.fail(StageVerify, env, env.Sender, ErrInvalidSignature, nil)
	}

	if fresh {
		if store, ok := p.metas.(directory.MetaStore); ok {
			if err := store.SaveMeta(ctx, env.Sender, meta); err != nil {
				p.log.WithError(err).WithField("sender", env.Sender.String()).Warn("saving attached meta failed")
			} else {
				p.log.WithFields(logrus.Fields{"sender": env.Sender.String()}).Debug("learned sender meta")
			}
		}
	}
	p.done(StageVerify, env)
	return msg.Secure(), nil
}

// senderMeta resolves the meta to verify msg with. fresh reports that it came
// from the message itself.
func (p *Pipeline) senderMeta(ctx context.Context, msg *message.ReliableMessage) (meta identity.Meta, fresh bool, err error) {
	env := msg.Envelope
	sender := env.Sender

	known, err := p.metas.Meta(ctx, sender)
	switch {
	case err == nil:
		if !known.MatchID(sender) {
			return identity.Meta{}, false, p.fail(StageVerify, env, sender, ErrIdentityMismatch, nil)
		}
		if msg.Meta != nil && !known.MatchKey(msg.Meta.Key) {
			return identity.Meta{}, false, p.fail(StageVerify, env, sender, ErrIdentityMismatch, errors.New("attached meta conflicts with known meta"))
		}
		return known, false, nil
	case errors.Is(err, directory.ErrMetaMismatch):
		return identity.Meta{}, false, p.fail(StageVerify, env, sender, ErrIdentityMismatch, err)
	case errors.Is(err, directory.ErrNotFound) && msg.Meta != nil:
		if !msg.Meta.MatchID(sender) {
			return identity.Meta{}, false, p.fail(StageVerify, env, sender, ErrIdentityMismatch, nil)
		}
		return *msg.Meta, true, nil
	default:
		return identity.Meta{}, false, p.fail(StageVerify, env, sender, ErrNoSenderMeta, err)
	}
}
