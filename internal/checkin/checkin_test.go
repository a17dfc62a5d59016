package checkin

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckInKey(t *testing.T) {
	assert.Equal(t, "checkin:TBL-7", checkInKey("TBL-7"))
}

func TestRedisResolver(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	resolver := NewRedisResolver(RedisConfig{Addr: addr})
	defer resolver.Close()
	ctx := context.Background()
	require.NoError(t, resolver.Ping(ctx))

	code := "test-" + uuid.NewString()
	want := CheckIn{BranchID: uuid.NewString(), QueueID: uuid.NewString()}

	_, err := resolver.Resolve(ctx, code)
	assert.ErrorIs(t, err, ErrCheckInNotFound)

	require.NoError(t, resolver.Bind(ctx, code, want, time.Minute))
	got, err := resolver.Resolve(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, resolver.Unbind(ctx, code))
	_, err = resolver.Resolve(ctx, code)
	assert.ErrorIs(t, err, ErrCheckInNotFound)
}

func TestResolveEmptyCode(t *testing.T) {
	resolver := NewRedisResolver(RedisConfig{Addr: "127.0.0.1:1"})
	defer resolver.Close()
	_, err := resolver.Resolve(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrCheckInNotFound)
}
