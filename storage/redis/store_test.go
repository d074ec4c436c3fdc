package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g4mless/mykelas-web/core"
)

// Requires a reachable Redis; set KLAS_TEST_REDIS_ADDR to run.
func TestStore(t *testing.T) {
	addr := os.Getenv("KLAS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KLAS_TEST_REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := Open(ctx, core.RedisConfig{Addr: addr, Prefix: "klas-test:" + uuid.NewString() + ":"})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(ctx, core.KeyOTPEmail)
	assert.Equal(t, core.ErrKeyNotFound, err)

	require.NoError(t, store.Set(ctx, core.KeyOTPEmail, "siswa@sekolah.id"))
	val, err := store.Get(ctx, core.KeyOTPEmail)
	require.NoError(t, err)
	assert.Equal(t, "siswa@sekolah.id", val)

	require.NoError(t, store.Delete(ctx, core.KeyOTPEmail))
	_, err = store.Get(ctx, core.KeyOTPEmail)
	assert.Equal(t, core.ErrKeyNotFound, err)
}
