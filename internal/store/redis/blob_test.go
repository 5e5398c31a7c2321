package redis

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Format(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "trickler:blob:00003000", key(0x3000))
	assert.Equal(t, "trickler:blob:00000000", key(0))
}

func TestNewBlob_InvalidURL(t *testing.T) {
	t.Parallel()

	_, err := NewBlob("not-a-url")
	require.Error(t, err)
}

// Round-trip against a live server; skipped unless TEST_REDIS_URL is set.
func TestBlob_RoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	b, err := NewBlob(url)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()

	missing, err := b.Read(ctx, 0xdead)
	require.NoError(t, err)
	assert.Nil(t, missing)

	payload := []byte{1, 2, 3, 4}
	require.NoError(t, b.Write(ctx, 0xdead, payload))

	got, err := b.Read(ctx, 0xdead)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
