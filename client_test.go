package asyncmc

import (
	"context"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"
)

func TestClientSingleServer(t *testing.T) {
	server := newFakeServer()
	addr := createListener(t, server.handle)

	client, err := NewClient([]string{addr}, ClientConfig{MaxPoolSize: 2})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "greeting", String("hello"), TTLIndefinite))

	var v String
	found, err := client.Get(ctx, "greeting", &v)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "hello", string(v))

	require.NoError(t, client.Delete(ctx, "greeting"))
	require.ErrorIs(t, client.Delete(ctx, "greeting"), ErrKeyNotFound)

	require.NoError(t, client.Add(ctx, "counter", Uint64(10), TTLIndefinite))
	require.ErrorIs(t, client.Add(ctx, "counter", Uint64(0), TTLIndefinite), ErrKeyExists)

	require.NoError(t, client.Increment(ctx, "counter", 5))
	var n Uint64
	found, err = client.Get(ctx, "counter", &n)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, Uint64(15), n)
}

func TestClientRequiresServers(t *testing.T) {
	_, err := NewClient(nil, ClientConfig{MaxPoolSize: 1})
	require.Error(t, err)
}

func TestClientShardsAcrossServers(t *testing.T) {
	serverA := newFakeServer()
	serverB := newFakeServer()
	addrA := createListener(t, serverA.handle)
	addrB := createListener(t, serverB.handle)

	client, err := NewClient([]string{addrA, addrB}, ClientConfig{MaxPoolSize: 1})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	keys := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot"}
	for _, key := range keys {
		require.NoError(t, client.Set(ctx, key, String(key), TTLIndefinite))
	}

	// Every key lands on exactly one server.
	serverA.mu.Lock()
	countA := len(serverA.items)
	serverA.mu.Unlock()
	serverB.mu.Lock()
	countB := len(serverB.items)
	serverB.mu.Unlock()

	require.Equal(t, len(keys), countA+countB)

	// Reads find every key again through the same placement.
	for _, key := range keys {
		var v String
		found, err := client.Get(ctx, key, &v)
		require.NoError(t, err)
		require.True(t, found, "key %q not found after set", key)
		require.Equal(t, key, string(v))
	}
}

func TestClientStaticSelectorPinsServer(t *testing.T) {
	serverA := newFakeServer()
	serverB := newFakeServer()
	addrA := createListener(t, serverA.handle)
	addrB := createListener(t, serverB.handle)

	client, err := NewClient([]string{addrA, addrB}, ClientConfig{
		MaxPoolSize: 1,
		Selector:    staticSelector(1),
	})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "pinned", String("x"), TTLIndefinite))

	serverB.mu.Lock()
	_, onB := serverB.items["pinned"]
	serverB.mu.Unlock()
	require.True(t, onB)
}

func TestClientCircuitBreakerOpensOnDeadServer(t *testing.T) {
	// Nothing listens on this address.
	client, err := NewClient([]string{"127.0.0.1:1"}, ClientConfig{
		MaxPoolSize:       1,
		NewCircuitBreaker: NewCircuitBreakerConfig(1, time.Minute, time.Minute),
	})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	var v String

	// Trip the breaker with repeated connect failures.
	for i := 0; i < 3; i++ {
		_, err = client.Get(ctx, "key", &v)
		require.Error(t, err)
	}

	_, err = client.Get(ctx, "key", &v)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestClientCircuitBreakerIgnoresSemanticErrors(t *testing.T) {
	server := newFakeServer()
	addr := createListener(t, server.handle)

	client, err := NewClient([]string{addr}, ClientConfig{
		MaxPoolSize:       1,
		NewCircuitBreaker: NewCircuitBreakerConfig(1, time.Minute, time.Minute),
	})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()

	// A stream of misses must not open the breaker.
	for i := 0; i < 10; i++ {
		err := client.Delete(ctx, "missing")
		require.ErrorIs(t, err, ErrKeyNotFound)
	}

	require.NoError(t, client.Set(ctx, "k", String("v"), TTLIndefinite))
}

func TestClientPing(t *testing.T) {
	server := newFakeServer()
	addr := createListener(t, server.handle)

	client, err := NewClient([]string{addr}, ClientConfig{MaxPoolSize: 1})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Ping(context.Background()))
}

func TestClientPingReportsDeadServers(t *testing.T) {
	server := newFakeServer()
	alive := createListener(t, server.handle)

	client, err := NewClient([]string{alive, "127.0.0.1:1"}, ClientConfig{MaxPoolSize: 1})
	require.NoError(t, err)
	defer client.Close()

	err = client.Ping(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "127.0.0.1:1")
}

func TestClientClosedRejectsCommands(t *testing.T) {
	server := newFakeServer()
	addr := createListener(t, server.handle)

	client, err := NewClient([]string{addr}, ClientConfig{MaxPoolSize: 1})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "k", String("v"), TTLIndefinite))

	client.Close()

	err = client.Set(ctx, "k", String("v"), TTLIndefinite)
	require.ErrorIs(t, err, ErrConnectionShutdown)
}
