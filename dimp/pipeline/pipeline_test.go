package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/dimp/dimp/content"
	"github.com/TheusHen/dimp/dimp/crypto"
	"github.com/TheusHen/dimp/dimp/directory"
	"github.com/TheusHen/dimp/dimp/directory/memory"
	"github.com/TheusHen/dimp/dimp/identity"
	"github.com/TheusHen/dimp/dimp/keycache"
	"github.com/TheusHen/dimp/dimp/message"
)

// node is one side of a conversation: its own directory, cache and pipeline.
type node struct {
	id    identity.ID
	meta  identity.Meta
	priv  crypto.PrivateKey
	store *memory.Store
	p     *Pipeline
}

func newUser(t testing.TB, seed string) (identity.ID, identity.Meta, crypto.PrivateKey) {
	t.Helper()
	priv, err := crypto.GenerateECC()
	require.NoError(t, err)
	meta, err := identity.GenerateMeta(identity.MKM, priv, seed)
	require.NoError(t, err)
	id, err := meta.GenerateID(identity.User, "")
	require.NoError(t, err)
	return id, meta, priv
}

func newNode(t testing.TB, seed string, opts ...func(*Config)) *node {
	t.Helper()
	ctx := context.Background()
	id, meta, priv := newUser(t, seed)
	store := memory.New()
	require.NoError(t, store.SaveMeta(ctx, id, meta))
	require.NoError(t, store.SavePrivateKey(ctx, id, priv, true))

	cfg := Config{Metas: store, PrivateKeys: store, Members: store}
	for _, opt := range opts {
		opt(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return &node{id: id, meta: meta, priv: priv, store: store, p: p}
}

// introduce makes each node know the other's meta.
func introduce(t testing.TB, nodes ...*node) {
	t.Helper()
	for _, a := range nodes {
		for _, b := range nodes {
			require.NoError(t, a.store.SaveMeta(context.Background(), b.id, b.meta))
		}
	}
}

func text(t *testing.T, in *message.InstantMessage) string {
	t.Helper()
	c, ok := in.Content.(*content.Text)
	require.True(t, ok, "expected text content, got %T", in.Content)
	return c.Text
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	moki, hulk := newNode(t, "moki"), newNode(t, "hulk")
	introduce(t, moki, hulk)

	env := message.NewEnvelope(moki.id, hulk.id, time.Unix(1545405083, 0))
	instant := message.NewInstantMessage(env, content.NewText("Hey guy!"))

	secure, err := moki.p.Encrypt(ctx, instant)
	require.NoError(t, err)
	require.NotEmpty(t, secure.Key, "first message must carry the key")
	assert.NotContains(t, string(secure.Data), "Hey guy!")

	reliable, err := moki.p.Sign(ctx, secure)
	require.NoError(t, err)

	wire, err := message.Encode(reliable, nil)
	require.NoError(t, err)
	received, err := message.DecodeReliable(wire)
	require.NoError(t, err)

	verified, err := hulk.p.Verify(ctx, received)
	require.NoError(t, err)
	opened, err := hulk.p.Decrypt(ctx, verified)
	require.NoError(t, err)
	assert.Equal(t, "Hey guy!", text(t, opened))
	assert.True(t, opened.Sender.Equal(moki.id))
	assert.True(t, opened.Time.Equal(env.Time))
}

func TestZeroSignatureRejected(t *testing.T) {
	ctx := context.Background()
	moki, hulk := newNode(t, "moki"), newNode(t, "hulk")
	introduce(t, moki, hulk)

	env := message.NewEnvelope(moki.id, hulk.id, time.Unix(1545405083, 0))
	secure, err := moki.p.Encrypt(ctx, message.NewInstantMessage(env, content.NewText("Hey guy!")))
	require.NoError(t, err)

	forged := message.NewReliableMessage(secure, make([]byte, 64))
	_, err = hulk.p.Verify(ctx, forged)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.ErrorIs(t, err, ErrCrypto)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StageVerify, perr.Stage)
	assert.True(t, perr.ID.Equal(moki.id))
}

func TestTamperDetection(t *testing.T) {
	ctx := context.Background()
	moki, hulk := newNode(t, "moki"), newNode(t, "hulk")
	introduce(t, moki, hulk)

	env := message.NewEnvelope(moki.id, hulk.id, time.Now())
	reliable, err := moki.p.Seal(ctx, message.NewInstantMessage(env, content.NewText("hi")))
	require.NoError(t, err)

	tamperedData := message.NewReliableMessage(reliable.Secure(), reliable.Signature)
	tamperedData.Data[0] ^= 1
	_, err = hulk.p.Verify(ctx, tamperedData)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	tamperedKey := message.NewReliableMessage(reliable.Secure(), reliable.Signature)
	tamperedKey.Key[len(tamperedKey.Key)-1] ^= 1
	_, err = hulk.p.Verify(ctx, tamperedKey)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	noSig := message.NewReliableMessage(reliable.Secure(), nil)
	_, err = hulk.p.Verify(ctx, noSig)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// The untouched message still opens.
	opened, err := hulk.p.Open(ctx, reliable)
	require.NoError(t, err)
	assert.Equal(t, "hi", text(t, opened))
}

func TestKeyCacheReuse(t *testing.T) {
	ctx := context.Background()
	moki, hulk := newNode(t, "moki"), newNode(t, "hulk")
	introduce(t, moki, hulk)
	env := message.NewEnvelope(moki.id, hulk.id, time.Now())

	first, err := moki.p.Seal(ctx, message.NewInstantMessage(env, content.NewText("one")))
	require.NoError(t, err)
	second, err := moki.p.Seal(ctx, message.NewInstantMessage(env, content.NewText("two")))
	require.NoError(t, err)
	require.NotEmpty(t, first.Key)
	assert.Empty(t, second.Key, "a reused key must not be attached again")

	// The second message cannot be read before the first installed the key.
	_, err = hulk.p.Open(ctx, second)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.ErrorIs(t, err, ErrKey)

	for _, m := range []*message.ReliableMessage{first, second} {
		_, err := hulk.p.Open(ctx, m)
		require.NoError(t, err)
	}

	senderKey, ok, err := moki.p.Cache().Get(ctx, moki.id, hulk.id)
	require.NoError(t, err)
	require.True(t, ok)
	receiverKey, ok, err := hulk.p.Cache().Get(ctx, moki.id, hulk.id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, crypto.Equal(senderKey.Key, receiverKey.Key))

	// After the sender clears the conversation a new key is distributed.
	require.NoError(t, moki.p.Cache().Clear(ctx, moki.id, hulk.id))
	third, err := moki.p.Seal(ctx, message.NewInstantMessage(env, content.NewText("three")))
	require.NoError(t, err)
	require.NotEmpty(t, third.Key)
	opened, err := hulk.p.Open(ctx, third)
	require.NoError(t, err)
	assert.Equal(t, "three", text(t, opened))
	rotated, _, _ := hulk.p.Cache().Get(ctx, moki.id, hulk.id)
	assert.False(t, crypto.Equal(rotated.Key, receiverKey.Key))
}

func TestEncryptWithoutRecipientMeta(t *testing.T) {
	ctx := context.Background()
	moki, hulk := newNode(t, "moki"), newNode(t, "hulk")
	env := message.NewEnvelope(moki.id, hulk.id, time.Now())

	_, err := moki.p.Encrypt(ctx, message.NewInstantMessage(env, content.NewText("hi")))
	assert.ErrorIs(t, err, ErrNoRecipientKey)
	assert.ErrorIs(t, err, directory.ErrNotFound)

	// The failed attempt left no key behind: once the meta is known the first
	// message carries a key.
	introduce(t, moki, hulk)
	secure, err := moki.p.Encrypt(ctx, message.NewInstantMessage(env, content.NewText("hi")))
	require.NoError(t, err)
	assert.NotEmpty(t, secure.Key)
}

func TestSignWithoutPrivateKey(t *testing.T) {
	ctx := context.Background()
	moki, hulk := newNode(t, "moki"), newNode(t, "hulk")
	introduce(t, moki, hulk)
	env := message.NewEnvelope(hulk.id, moki.id, time.Now())
	secure := message.NewSecureMessage(env, []byte("data"), nil, nil)

	_, err := moki.p.Sign(ctx, secure)
	assert.ErrorIs(t, err, ErrSigning)
}

func TestVerifyUnknownSender(t *testing.T) {
	ctx := context.Background()
	moki, hulk := newNode(t, "moki"), newNode(t, "hulk")
	require.NoError(t, moki.store.SaveMeta(ctx, hulk.id, hulk.meta))

	env := message.NewEnvelope(moki.id, hulk.id, time.Now())
	reliable, err := moki.p.Seal(ctx, message.NewInstantMessage(env, content.NewText("hi")))
	require.NoError(t, err)

	_, err = hulk.p.Verify(ctx, reliable)
	assert.ErrorIs(t, err, ErrNoSenderMeta)
	assert.ErrorIs(t, err, ErrKey)
}

func TestAttachedMetaBootstrapsFirstContact(t *testing.T) {
	ctx := context.Background()
	attach := func(c *Config) { c.AttachMeta = true }
	moki, hulk := newNode(t, "moki", attach), newNode(t, "hulk", attach)
	require.NoError(t, moki.store.SaveMeta(ctx, hulk.id, hulk.meta))

	env := message.NewEnvelope(moki.id, hulk.id, time.Now())
	first, err := moki.p.Seal(ctx, message.NewInstantMessage(env, content.NewText("hello stranger")))
	require.NoError(t, err)
	require.NotNil(t, first.Meta)

	opened, err := hulk.p.Open(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "hello stranger", text(t, opened))

	learned, err := hulk.store.Meta(ctx, moki.id)
	require.NoError(t, err)
	assert.True(t, learned.MatchKey(moki.meta.Key))

	second, err := moki.p.Seal(ctx, message.NewInstantMessage(env, content.NewText("again")))
	require.NoError(t, err)
	assert.Nil(t, second.Meta, "meta only travels with a new key")
}

func TestAttachedMetaMustBind(t *testing.T) {
	ctx := context.Background()
	moki, hulk := newNode(t, "moki"), newNode(t, "hulk")
	require.NoError(t, moki.store.SaveMeta(ctx, hulk.id, hulk.meta))
	_, impostorMeta, _ := newUser(t, "moki")

	env := message.NewEnvelope(moki.id, hulk.id, time.Now())
	reliable, err := moki.p.Seal(ctx, message.NewInstantMessage(env, content.NewText("hi")))
	require.NoError(t, err)

	forged := message.NewReliableMessage(reliable.WithMeta(impostorMeta), reliable.Signature)
	_, err = hulk.p.Verify(ctx, forged)
	assert.ErrorIs(t, err, ErrIdentityMismatch)
	assert.ErrorIs(t, err, ErrIdentity)

	// Conflicting with a known meta is also an identity error.
	introduce(t, moki, hulk)
	_, err = hulk.p.Verify(ctx, forged)
	assert.ErrorIs(t, err, ErrIdentityMismatch)
}

func TestDecryptWithRotatedKey(t *testing.T) {
	ctx := context.Background()
	moki, hulk := newNode(t, "moki"), newNode(t, "hulk")
	introduce(t, moki, hulk)

	env := message.NewEnvelope(moki.id, hulk.id, time.Now())
	reliable, err := moki.p.Seal(ctx, message.NewInstantMessage(env, content.NewText("old key")))
	require.NoError(t, err)

	// hulk gets a new decryption key; the old one stays second in line.
	fresh, err := crypto.GenerateECC()
	require.NoError(t, err)
	require.NoError(t, hulk.store.SavePrivateKey(ctx, hulk.id, hulk.priv, false))
	require.NoError(t, hulk.store.SavePrivateKey(ctx, hulk.id, fresh, true))
	keys, _ := hulk.store.PrivateKeysForDecryption(ctx, hulk.id)
	require.True(t, crypto.Equal(keys[0], fresh))

	opened, err := hulk.p.Open(ctx, reliable)
	require.NoError(t, err)
	assert.Equal(t, "old key", text(t, opened))
}

func TestDecryptFailures(t *testing.T) {
	ctx := context.Background()
	moki, hulk, eve := newNode(t, "moki"), newNode(t, "hulk"), newNode(t, "eve")
	introduce(t, moki, hulk, eve)

	env := message.NewEnvelope(moki.id, hulk.id, time.Now())
	secure, err := moki.p.Encrypt(ctx, message.NewInstantMessage(env, content.NewText("for hulk")))
	require.NoError(t, err)

	// eve cannot open the key addressed to hulk.
	stolen := message.NewSecureMessage(message.NewEnvelope(moki.id, eve.id, env.Time), secure.Data, secure.Key, nil)
	_, err = eve.p.Decrypt(ctx, stolen)
	assert.ErrorIs(t, err, ErrDecryption)
	_, ok, _ := eve.p.Cache().Get(ctx, moki.id, eve.id)
	assert.False(t, ok, "a key that failed must not be installed")

	corrupted := secure.Clone()
	corrupted.Data[len(corrupted.Data)-1] ^= 1
	_, err = hulk.p.Decrypt(ctx, corrupted)
	assert.ErrorIs(t, err, ErrDecryption)
	_, ok, _ = hulk.p.Cache().Get(ctx, moki.id, hulk.id)
	assert.False(t, ok)

	opened, err := hulk.p.Decrypt(ctx, secure)
	require.NoError(t, err)
	assert.Equal(t, "for hulk", text(t, opened))
}

func TestMalformedContent(t *testing.T) {
	ctx := context.Background()
	moki, hulk := newNode(t, "moki"), newNode(t, "hulk")
	introduce(t, moki, hulk)

	key, err := crypto.GenerateSymmetricKey(crypto.ChaCha20Poly1305)
	require.NoError(t, err)
	require.NoError(t, moki.p.Cache().Put(ctx, moki.id, hulk.id, key))
	require.NoError(t, hulk.p.Cache().Put(ctx, moki.id, hulk.id, key))

	data, err := key.Encrypt([]byte("not json"))
	require.NoError(t, err)
	env := message.NewEnvelope(moki.id, hulk.id, time.Now())
	_, err = hulk.p.Decrypt(ctx, message.NewSecureMessage(env, data, nil, nil))
	assert.ErrorIs(t, err, ErrMalformedContent)
	assert.ErrorIs(t, err, ErrCodec)
	assert.ErrorIs(t, err, content.ErrMalformed)
}

func TestGroupFanOut(t *testing.T) {
	ctx := context.Background()
	moki, hulk, baloo := newNode(t, "moki"), newNode(t, "hulk"), newNode(t, "baloo")
	introduce(t, moki, hulk, baloo)

	groupID := identity.NewID("group", mustGroupAddress(t), "")
	members := []identity.ID{hulk.id, baloo.id}
	require.NoError(t, moki.store.SetMembers(ctx, groupID, members))

	body := content.NewText("hi all")
	body.SetGroup(groupID)
	env := message.NewEnvelope(moki.id, groupID, time.Now())
	reliable, err := moki.p.Seal(ctx, message.NewInstantMessage(env, body))
	require.NoError(t, err)
	assert.Empty(t, reliable.Key)
	require.Len(t, reliable.Keys, len(members))

	// Every member decrypts its own key; all keys are the same symmetric key.
	var keys []crypto.SymmetricKey
	for _, n := range []*node{hulk, baloo} {
		copyFor, err := reliable.Trim(n.id)
		require.NoError(t, err)
		opened, err := n.p.Open(ctx, copyFor)
		require.NoError(t, err)
		assert.Equal(t, "hi all", text(t, opened))
		assert.True(t, opened.Group.Equal(groupID))

		entry, ok, err := n.p.Cache().Get(ctx, moki.id, groupID)
		require.NoError(t, err)
		require.True(t, ok)
		keys = append(keys, entry.Key)
	}
	assert.True(t, crypto.Equal(keys[0], keys[1]))

	// hulk's key is useless to anyone else.
	forHulk, err := reliable.Trim(hulk.id)
	require.NoError(t, err)
	outsider := newNode(t, "mowgli")
	redirected := forHulk.Secure()
	redirected.Receiver = outsider.id
	_, err = outsider.p.Decrypt(ctx, redirected)
	assert.ErrorIs(t, err, ErrDecryption)

	// An untrimmed group message cannot be decrypted directly.
	_, err = hulk.p.Decrypt(ctx, reliable.Secure())
	assert.ErrorIs(t, err, ErrUntrimmed)
	assert.ErrorIs(t, err, ErrCodec)
	assert.NotErrorIs(t, err, ErrKey)
}

func mustGroupAddress(t testing.TB) identity.Address {
	t.Helper()
	priv, err := crypto.GenerateECC()
	require.NoError(t, err)
	meta, err := identity.GenerateMeta(identity.MKM, priv, "group")
	require.NoError(t, err)
	addr, err := meta.GenerateAddress(identity.Group)
	require.NoError(t, err)
	return addr
}

func TestGroupWithoutMembers(t *testing.T) {
	ctx := context.Background()
	moki := newNode(t, "moki")
	groupID := identity.NewID("group", mustGroupAddress(t), "")
	env := message.NewEnvelope(moki.id, groupID, time.Now())

	_, err := moki.p.Encrypt(ctx, message.NewInstantMessage(env, content.NewText("hi")))
	assert.ErrorIs(t, err, ErrNoRecipientKey)

	_, err = moki.p.EncryptForMembers(ctx, message.NewInstantMessage(env, content.NewText("hi")), nil)
	assert.ErrorIs(t, err, ErrNoRecipientKey)
}

func TestBroadcast(t *testing.T) {
	ctx := context.Background()
	moki, hulk := newNode(t, "moki"), newNode(t, "hulk")
	introduce(t, moki, hulk)

	env := message.NewEnvelope(moki.id, identity.Everyone, time.Now())
	reliable, err := moki.p.Seal(ctx, message.NewInstantMessage(env, content.NewText("to all")))
	require.NoError(t, err)
	assert.Empty(t, reliable.Key)
	assert.Empty(t, reliable.Keys)

	opened, err := hulk.p.Open(ctx, reliable)
	require.NoError(t, err)
	assert.Equal(t, "to all", text(t, opened))
}

func TestConcurrentConversations(t *testing.T) {
	ctx := context.Background()
	moki := newNode(t, "moki")
	peers := make([]*node, 4)
	for i := range peers {
		peers[i] = newNode(t, "peer")
		introduce(t, moki, peers[i])
	}

	var wg sync.WaitGroup
	for _, peer := range peers {
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func(peer *node) {
				defer wg.Done()
				env := message.NewEnvelope(moki.id, peer.id, time.Now())
				_, err := moki.p.Seal(ctx, message.NewInstantMessage(env, content.NewText("hi")))
				assert.NoError(t, err)
			}(peer)
		}
	}
	wg.Wait()
	assert.Equal(t, len(peers), moki.p.Cache().Len())
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	withMetrics := func(c *Config) { c.Metrics = metrics }
	moki, hulk := newNode(t, "moki", withMetrics), newNode(t, "hulk", withMetrics)
	introduce(t, moki, hulk)

	env := message.NewEnvelope(moki.id, hulk.id, time.Now())
	reliable, err := moki.p.Seal(ctx, message.NewInstantMessage(env, content.NewText("hi")))
	require.NoError(t, err)
	_, err = hulk.p.Open(ctx, reliable)
	require.NoError(t, err)
	_, err = hulk.p.Verify(ctx, message.NewReliableMessage(reliable.Secure(), make([]byte, 64)))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messages.WithLabelValues("encrypt", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messages.WithLabelValues("verify", "crypto_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.keys.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.keys.WithLabelValues("installed")))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "registering twice must fail")
}

func TestNewValidatesConfig(t *testing.T) {
	store := memory.New()
	_, err := New(Config{PrivateKeys: store})
	assert.Error(t, err)
	_, err = New(Config{Metas: store})
	assert.Error(t, err)
	_, err = New(Config{Metas: store, PrivateKeys: store, CipherAlgorithm: "ROT13"})
	assert.ErrorIs(t, err, crypto.ErrUnknownAlgorithm)
}

func TestPersistentCacheAcrossRestart(t *testing.T) {
	ctx := context.Background()
	moki, hulk := newNode(t, "moki"), newNode(t, "hulk")
	introduce(t, moki, hulk)

	store := &sharedStore{keys: map[string]crypto.SymmetricKey{}}
	cache := keycache.New(keycache.WithStore(store))
	restartable, err := New(Config{Metas: hulk.store, PrivateKeys: hulk.store, Cache: cache})
	require.NoError(t, err)

	env := message.NewEnvelope(moki.id, hulk.id, time.Now())
	first, _ := moki.p.Seal(ctx, message.NewInstantMessage(env, content.NewText("one")))
	second, _ := moki.p.Seal(ctx, message.NewInstantMessage(env, content.NewText("two")))
	_, err = restartable.Open(ctx, first)
	require.NoError(t, err)

	restarted, err := New(Config{Metas: hulk.store, PrivateKeys: hulk.store, Cache: keycache.New(keycache.WithStore(store))})
	require.NoError(t, err)
	opened, err := restarted.Open(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "two", text(t, opened))
}

type sharedStore struct {
	mu   sync.Mutex
	keys map[string]crypto.SymmetricKey
}

func (s *sharedStore) k(a, b identity.ID) string { return a.Bare().String() + "|" + b.Bare().String() }

func (s *sharedStore) LoadCipherKey(_ context.Context, a, b identity.ID) (crypto.SymmetricKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.keys[s.k(a, b)]; ok {
		return key, nil
	}
	return nil, keycache.ErrNotFound
}

func (s *sharedStore) SaveCipherKey(_ context.Context, a, b identity.ID, key crypto.SymmetricKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[s.k(a, b)] = key
	return nil
}

func (s *sharedStore) DeleteCipherKey(_ context.Context, a, b identity.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, s.k(a, b))
	return nil
}

func BenchmarkSealOpen(b *testing.B) {
	ctx := context.Background()
	moki, hulk := newNode(b, "moki"), newNode(b, "hulk")
	introduce(b, moki, hulk)
	env := message.NewEnvelope(moki.id, hulk.id, time.Now())
	first, _ := moki.p.Seal(ctx, message.NewInstantMessage(env, content.NewText("warmup")))
	_, _ = hulk.p.Open(ctx, first)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r, _ := moki.p.Seal(ctx, message.NewInstantMessage(env, content.NewText("hi")))
		_, _ = hulk.p.Open(ctx, r)
	}
}
