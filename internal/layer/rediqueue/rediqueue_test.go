package rediqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/relaybus/channels/internal/layer"
	"github.com/relaybus/channels/internal/layer/sentinel"
)

func newTestLayer(t *testing.T, cfg Config) (*Layer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.Hosts = []sentinel.HostDescriptor{{Addr: mr.Addr()}}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 200 * time.Millisecond
	}
	l, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, mr
}

func TestSendReceiveRoundTrip(t *testing.T) {
	l, _ := newTestLayer(t, Config{})
	ctx := context.Background()

	require.NoError(t, l.Send(ctx, "test-channel", layer.Message{"type": "chat.message", "text": "hi"}))

	msg, err := l.Receive(ctx, "test-channel")
	require.NoError(t, err)
	require.Equal(t, "chat.message", msg.TypeOf())
	require.Equal(t, "hi", msg["text"])
}

func TestSendCapacityFull(t *testing.T) {
	cfg := Config{Config: layer.Config{Capacity: 1}}
	l, _ := newTestLayer(t, cfg)
	ctx := context.Background()

	require.NoError(t, l.Send(ctx, "bounded", layer.Message{"type": "a"}))
	err := l.Send(ctx, "bounded", layer.Message{"type": "b"})
	require.ErrorIs(t, err, layer.ErrChannelFull)
}

func TestReceiveTimesOutOnCancel(t *testing.T) {
	l, _ := newTestLayer(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := l.Receive(ctx, "empty-channel")
	require.Error(t, err)
}

func TestGroupAddSendDiscard(t *testing.T) {
	l, _ := newTestLayer(t, Config{})
	ctx := context.Background()

	require.NoError(t, l.GroupAdd(ctx, "room", "member-a"))
	require.NoError(t, l.GroupAdd(ctx, "room", "member-b"))

	require.NoError(t, l.GroupSend(ctx, "room", layer.Message{"type": "chat.message"}))

	msgA, err := l.Receive(ctx, "member-a")
	require.NoError(t, err)
	require.Equal(t, "chat.message", msgA.TypeOf())

	msgB, err := l.Receive(ctx, "member-b")
	require.NoError(t, err)
	require.Equal(t, "chat.message", msgB.TypeOf())

	require.NoError(t, l.GroupDiscard(ctx, "room", "member-a"))
	require.NoError(t, l.GroupSend(ctx, "room", layer.Message{"type": "chat.message"}))

	shortCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err = l.Receive(shortCtx, "member-a")
	require.Error(t, err, "discarded member should not receive further group sends")
}

func TestGroupSendReapsExpiredMembers(t *testing.T) {
	// GroupExpiry is measured against wall-clock Unix timestamps stored as
	// sorted-set scores, so this test sleeps in real time rather than
	// fast-forwarding miniredis's internal expiry clock, which is unrelated.
	cfg := Config{Config: layer.Config{GroupExpiry: 1}}
	l, _ := newTestLayer(t, cfg)
	ctx := context.Background()

	require.NoError(t, l.GroupAdd(ctx, "stale-room", "member-a"))
	time.Sleep(2 * time.Second)

	require.NoError(t, l.GroupSend(ctx, "stale-room", layer.Message{"type": "x"}))

	shortCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err := l.Receive(shortCtx, "member-a")
	require.Error(t, err, "expired group member should not receive the send")
}

func TestGroupSendSwallowsChannelFull(t *testing.T) {
	cfg := Config{Config: layer.Config{Capacity: 1}}
	l, _ := newTestLayer(t, cfg)
	ctx := context.Background()

	require.NoError(t, l.GroupAdd(ctx, "room", "member-a"))
	require.NoError(t, l.GroupAdd(ctx, "room", "member-b"))
	require.NoError(t, l.Send(ctx, "member-a", layer.Message{"type": "filler"}))

	require.NoError(t, l.GroupSend(ctx, "room", layer.Message{"type": "chat.message"}))

	msgB, err := l.Receive(ctx, "member-b")
	require.NoError(t, err)
	require.Equal(t, "chat.message", msgB.TypeOf())
}

func TestFlushRemovesKeys(t *testing.T) {
	l, mr := newTestLayer(t, Config{})
	ctx := context.Background()

	require.NoError(t, l.Send(ctx, "c1", layer.Message{"type": "x"}))
	require.NoError(t, l.GroupAdd(ctx, "g1", "c1"))
	require.NotEmpty(t, mr.Keys())

	require.NoError(t, l.Flush(ctx))
	require.Empty(t, mr.Keys())
}

func TestNewChannelIsValid(t *testing.T) {
	l, _ := newTestLayer(t, Config{})
	name, err := l.NewChannel(context.Background(), "chat")
	require.NoError(t, err)
	require.NotEmpty(t, name)
}

func TestNewRequiresAtLeastOneHost(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestSendReceiveRoundTripWithEncryption(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	cfg := Config{SymmetricEncryptionKeys: [][]byte{key}}
	l, _ := newTestLayer(t, cfg)
	ctx := context.Background()

	require.NoError(t, l.Send(ctx, "secret-channel", layer.Message{"type": "chat.message", "text": "hush"}))

	msg, err := l.Receive(ctx, "secret-channel")
	require.NoError(t, err)
	require.Equal(t, "hush", msg["text"])
}

func TestEncodeEnvelopeEncryptsWhenKeyConfigured(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	plain, err := encodeEnvelope(layer.Message{"type": "x", "text": "hush"}, nil)
	require.NoError(t, err)
	sealed, err := encodeEnvelope(layer.Message{"type": "x", "text": "hush"}, [][]byte{key})
	require.NoError(t, err)

	require.NotContains(t, string(sealed), "hush")
	require.NotEqual(t, plain, sealed)

	id, msg, err := decodeEnvelope(sealed, [][]byte{key})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, "hush", msg["text"])
}

func TestReceiveFailsWithWrongKey(t *testing.T) {
	sendKey := []byte("0123456789abcdef0123456789abcdef")
	l, _ := newTestLayer(t, Config{SymmetricEncryptionKeys: [][]byte{sendKey}})
	ctx := context.Background()
	require.NoError(t, l.Send(ctx, "secret-channel", layer.Message{"type": "x"}))

	wrongKey := []byte("fedcba9876543210fedcba9876543210")
	l.cfg.SymmetricEncryptionKeys = [][]byte{wrongKey}

	shortCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err := l.Receive(shortCtx, "secret-channel")
	require.Error(t, err)
}

func TestDoReturnsNonFailoverErrorImmediately(t *testing.T) {
	l, _ := newTestLayer(t, Config{RetryAttempts: 5, RetryBackoff: time.Millisecond})
	s := l.shards[0]

	boom := errFixedNonFailover{}
	attempts := 0
	err := l.do(context.Background(), s, func(*redis.Client) error {
		attempts++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, attempts, "non-failover error must not be retried")
}

type errFixedNonFailover struct{}

func (errFixedNonFailover) Error() string { return "permanent failure" }
