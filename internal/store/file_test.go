package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_ReadMissingReturnsNil(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	data, err := s.Read(context.Background(), 0x3000)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestFileStore_WriteThenRead(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	payload := []byte{0x01, 0x00, 0xfe, 0xca}
	require.NoError(t, s.Write(ctx, 0x3000, payload))

	got, err := s.Read(ctx, 0x3000)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Whole-blob overwrite, not append.
	require.NoError(t, s.Write(ctx, 0x3000, []byte{0xaa}))
	got, err = s.Read(ctx, 0x3000)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa}, got)
}

func TestFileStore_AddressesAreIndependent(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 1, []byte{1}))
	require.NoError(t, s.Write(ctx, 2, []byte{2}))

	a, err := s.Read(ctx, 1)
	require.NoError(t, err)
	b, err := s.Read(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, a)
	assert.Equal(t, []byte{2}, b)
}
