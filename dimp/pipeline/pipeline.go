// Package pipeline moves messages between their three states:
//
//	Instant --Encrypt--> Secure --Sign--> Reliable
//	Reliable --Verify--> Secure --Decrypt--> Instant
//
// The pipeline holds no state of its own besides the symmetric key cache; all
// identities and private keys come from the directory collaborators.
package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/dimp/dimp/content"
	"github.com/TheusHen/dimp/dimp/crypto"
	"github.com/TheusHen/dimp/dimp/directory"
	"github.com/TheusHen/dimp/dimp/identity"
	"github.com/TheusHen/dimp/dimp/keycache"
	"github.com/TheusHen/dimp/dimp/message"
)

var errNoMembers = errors.New("group has no members")

type Config struct {
	Metas       directory.MetaSource
	PrivateKeys directory.PrivateKeySource
	// Members resolves group receivers. Optional; without it group messages
	// need EncryptForMembers.
	Members directory.MemberSource
	// Cache defaults to an empty in-memory cache.
	Cache *keycache.Cache
	// Codec defaults to content.NewRegistry().
	Codec content.Codec
	// CipherAlgorithm for new conversation keys; defaults to ChaCha20-Poly1305.
	CipherAlgorithm string
	// AttachMeta makes Sign attach the sender's meta whenever a message
	// carries a new key.
	AttachMeta bool
	Logger     *logrus.Logger
	Metrics    *Metrics
}

type Pipeline struct {
	metas      directory.MetaSource
	keys       directory.PrivateKeySource
	members    directory.MemberSource
	cache      *keycache.Cache
	codec      content.Codec
	algorithm  string
	attachMeta bool
	log        *logrus.Logger
	metrics    *Metrics
}

var (
	errNoMetaSource       = errors.New("pipeline: meta source is required")
	errNoPrivateKeySource = errors.New("pipeline: private key source is required")
)

func New(cfg Config) (*Pipeline, error) {
	if cfg.Metas == nil {
		return nil, errNoMetaSource
	}
	if cfg.PrivateKeys == nil {
		return nil, errNoPrivateKeySource
	}
	if cfg.Cache == nil {
		cfg.Cache = keycache.New()
	}
	if cfg.Codec == nil {
		cfg.Codec = content.NewRegistry()
	}
	if cfg.CipherAlgorithm == "" {
		cfg.CipherAlgorithm = crypto.ChaCha20Poly1305
	}
	if _, err := crypto.GenerateSymmetricKey(cfg.CipherAlgorithm); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetOutput(io.Discard)
	}
	return &Pipeline{
		metas:      cfg.Metas,
		keys:       cfg.PrivateKeys,
		members:    cfg.Members,
		cache:      cfg.Cache,
		codec:      cfg.Codec,
		algorithm:  cfg.CipherAlgorithm,
		attachMeta: cfg.AttachMeta,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Cache exposes the key cache, e.g. to Clear a conversation after the peer
// reports a lost key.
func (p *Pipeline) Cache() *keycache.Cache { return p.cache }

func (p *Pipeline) Codec() content.Codec { return p.codec }

func (p *Pipeline) fail(stage Stage, env message.Envelope, id identity.ID, sentinel, cause error) error {
	err := &Error{Stage: stage, ID: id, Err: sentinel, Cause: cause}
	p.metrics.observe(stage, err)
	p.log.WithFields(logrus.Fields{
		"stage":    string(stage),
		"sender":   env.Sender.String(),
		"receiver": env.Receiver.String(),
		"id":       id.String(),
	}).WithError(err).Warn("message rejected")
	return err
}

func (p *Pipeline) done(stage Stage, env message.Envelope) {
	p.metrics.observe(stage, nil)
	if p.log.IsLevelEnabled(logrus.DebugLevel) {
		p.log.WithFields(logrus.Fields{
			"stage":    string(stage),
			"sender":   env.Sender.String(),
			"receiver": env.Receiver.String(),
		}).Debug("message processed")
	}
}

// Seal encrypts and signs msg.
func (p *Pipeline) Seal(ctx context.Context, msg *message.InstantMessage) (*message.ReliableMessage, error) {
	secure, err := p.Encrypt(ctx, msg)
	if err != nil {
		return nil, err
	}
	return p.Sign(ctx, secure)
}

// Open verifies and decrypts msg.
func (p *Pipeline) Open(ctx context.Context, msg *message.ReliableMessage) (*message.InstantMessage, error) {
	secure, err := p.Verify(ctx, msg)
	if err != nil {
		return nil, err
	}
	return p.Decrypt(ctx, secure)
}

// recipientKey returns the public key of id after checking that its meta
// binds to it.
func (p *Pipeline) recipientKey(ctx context.Context, id identity.ID) (crypto.PublicKey, error) {
	meta, err := p.metas.Meta(ctx, id)
	if err != nil {
		return nil, err
	}
	if !meta.MatchID(id) {
		return nil, directory.ErrMetaMismatch
	}
	return meta.Key, nil
}
