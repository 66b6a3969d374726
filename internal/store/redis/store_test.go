package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStore_Key(t *testing.T) {
	s := NewStore(nil, "activity:profile", time.Minute)
	assert.Equal(t, "activity:profile:abc", s.key("abc"))
}

func TestStore_EmptyInputsSkipRoundTrip(t *testing.T) {
	s := NewStore(unreachableClient(t), "p", time.Minute)

	got, err := s.GetMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.PutMany(context.Background(), nil))
}

func TestStore_UnreachableServerReturnsError(t *testing.T) {
	s := NewStore(unreachableClient(t), "p", time.Minute)

	_, err := s.GetMany(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis mget p")

	err = s.PutMany(context.Background(), map[string][]byte{"a": []byte("1")})
	require.Error(t, err)
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect(context.Background(), "not-a-url://")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis url")
}
