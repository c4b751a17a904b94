package loginflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimbleslab/chatgate/pkg/loginflow"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestNewFlow(t *testing.T) {
	flow := loginflow.New("/chat")
	assert.NotEmpty(t, flow.ID)
	assert.NotEmpty(t, flow.State)
	assert.NotEmpty(t, flow.Verifier)
	assert.Equal(t, "/chat", flow.RedirectTo)

	other := loginflow.New("")
	assert.NotEqual(t, flow.State, other.State)
	assert.NotEqual(t, flow.Verifier, other.Verifier)
}

func testStoreRedeemOnce(t *testing.T, store loginflow.Store) {
	t.Helper()
	ctx := context.Background()

	flow := loginflow.New("/chat")
	assert.NoError(t, store.Save(ctx, flow))

	got, err := store.Redeem(ctx, flow.State)
	assert.NoError(t, err)
	assert.Equal(t, flow.Verifier, got.Verifier)
	assert.Equal(t, "/chat", got.RedirectTo)

	// Replay: the state is gone.
	_, err = store.Redeem(ctx, flow.State)
	assert.ErrorIs(t, err, loginflow.ErrNotFound)

	_, err = store.Redeem(ctx, "never-issued")
	assert.ErrorIs(t, err, loginflow.ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	testStoreRedeemOnce(t, loginflow.NewMemoryStore(0))
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := loginflow.NewMemoryStore(time.Millisecond)
	ctx := context.Background()

	flow := loginflow.New("")
	assert.NoError(t, store.Save(ctx, flow))
	time.Sleep(5 * time.Millisecond)

	_, err := store.Redeem(ctx, flow.State)
	assert.ErrorIs(t, err, loginflow.ErrNotFound)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	testStoreRedeemOnce(t, loginflow.NewRedisStore(client, "", 0))
}

func TestRedisStoreExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := loginflow.NewRedisStore(client, "", time.Minute)
	ctx := context.Background()

	flow := loginflow.New("")
	assert.NoError(t, store.Save(ctx, flow))

	mr.FastForward(2 * time.Minute)

	_, err := store.Redeem(ctx, flow.State)
	assert.ErrorIs(t, err, loginflow.ErrNotFound)
}
