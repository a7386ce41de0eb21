package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDirectoryLookupIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryWalletDirectory()

	require.NoError(t, dir.Store(ctx, "A@B.com", "0x1"))

	addr, err := dir.Lookup(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "0x1", addr)

	addr, err = dir.Lookup(ctx, "  A@B.COM ")
	require.NoError(t, err)
	assert.Equal(t, "0x1", addr)
}

func TestMemoryDirectoryMissIsNotFound(t *testing.T) {
	dir := NewMemoryWalletDirectory()

	_, err := dir.Lookup(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestMemoryDirectoryReVerificationOverwrites(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryWalletDirectory()

	require.NoError(t, dir.Store(ctx, "x@y.com", "0xOLD"))
	require.NoError(t, dir.Store(ctx, "X@Y.com", "0xNEW"))

	addr, err := dir.Lookup(ctx, "x@y.com")
	require.NoError(t, err)
	assert.Equal(t, "0xNEW", addr)
}

func TestMemoryDirectoryRejectsEmptyFields(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryWalletDirectory()

	assert.Error(t, dir.Store(ctx, "", "0x1"))
	assert.Error(t, dir.Store(ctx, "x@y.com", "  "))
}

func TestMemoryDirectoryConcurrentVerifiers(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryWalletDirectory()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			email := fmt.Sprintf("buyer%d@example.com", i)
			_ = dir.Store(ctx, email, fmt.Sprintf("0x%d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 50; i++ {
		addr, err := dir.Lookup(ctx, fmt.Sprintf("BUYER%d@example.com", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("0x%d", i), addr)
	}
}
