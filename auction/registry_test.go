package auction_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gavel/auction"
)

func TestRegistryLookup(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()

	_, err := f.registry.Lookup("missing")
	assert.ErrorIs(t, err, auction.ErrNotFound)

	a, err := f.registry.Create(context.Background(), "book", 15, "owner")
	require.NoError(t, err)
	require.NotEmpty(t, a.ID())

	found, err := f.registry.Lookup(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, found)
}

func TestRegistryUniqueIDs(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		a, err := f.registry.Create(context.Background(), "book", 15, "owner")
		require.NoError(t, err)
		assert.False(t, seen[a.ID()], "auction ids must be unique")
		seen[a.ID()] = true
	}
}

func TestRegistryRejectsInvalidCreate(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()

	_, err := f.registry.Create(context.Background(), "", 15, "owner")
	require.ErrorIs(t, err, auction.ErrInvalidArgument)

	// 建立失敗的實體不保留
	ids, err := f.registry.FindIDsByTitle(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRegistryFindByTitle(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()

	book, err := f.registry.Create(context.Background(), "antique book", 15, "owner")
	require.NoError(t, err)
	_, err = f.registry.Create(context.Background(), "old chair", 30, "owner")
	require.NoError(t, err)

	ids, err := f.registry.FindIDsByTitle(context.Background(), "book")
	require.NoError(t, err)
	assert.Equal(t, []string{book.ID()}, ids)

	ids, err = f.registry.FindIDsByTitle(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, ids, 2, "empty query matches every title")

	found, err := f.registry.FindByTitle(context.Background(), "antique book")
	require.NoError(t, err)
	assert.Same(t, book, found)

	// 完全相符才算，部分相符回報查無
	_, err = f.registry.FindByTitle(context.Background(), "book")
	assert.ErrorIs(t, err, auction.ErrNotFound)
}

func TestRegistryClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()

	a, err := f.registry.Create(context.Background(), "book", 15, "owner")
	require.NoError(t, err)

	f.registry.Close()
	// 重複關閉是安全的no-op
	f.registry.Close()

	_, err = f.registry.Create(context.Background(), "chair", 30, "owner")
	assert.ErrorIs(t, err, context.Canceled)

	// 已停止的actor拒絕後續操作
	_, err = a.Get(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}
