// Package storetest holds contract suites shared by the repository adapters.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goAccount/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(value, userID string, typ token.Type, created time.Time) *token.SecurityToken {
	return &token.SecurityToken{
		ID:        "id-" + value,
		Value:     value,
		Type:      typ,
		UserID:    userID,
		CreatedAt: created,
		ExpiresAt: created.Add(time.Hour),
	}
}

// TokenRepository runs the token.Repository contract against repositories
// returned by newRepo. Each subtest gets a fresh repository.
func TokenRepository(t *testing.T, newRepo func(t *testing.T) token.Repository) {
	base := time.Now().Truncate(time.Millisecond)

	t.Run("save and find", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		want := record("v1", "u1", token.AccountActivation, base)
		require.NoError(t, repo.Save(ctx, want))

		got, err := repo.FindByValueAndType(ctx, "v1", token.AccountActivation)
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.UserID, got.UserID)
		assert.Equal(t, want.Type, got.Type)
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
		assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))

		_, err = repo.FindByValueAndType(ctx, "v1", token.Refresh)
		assert.ErrorIs(t, err, token.ErrNotFound)
		_, err = repo.FindByValueAndType(ctx, "missing", token.AccountActivation)
		assert.ErrorIs(t, err, token.ErrNotFound)
	})

	t.Run("find by user is newest first", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.Save(ctx, record("old", "u1", token.Refresh, base)))
		require.NoError(t, repo.Save(ctx, record("new", "u1", token.Refresh, base.Add(time.Minute))))
		require.NoError(t, repo.Save(ctx, record("other-type", "u1", token.EmailUpdate, base)))
		require.NoError(t, repo.Save(ctx, record("other-user", "u2", token.Refresh, base)))

		got, err := repo.FindByUserAndType(ctx, "u1", token.Refresh)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "new", got[0].Value)
		assert.Equal(t, "old", got[1].Value)
	})

	t.Run("delete reports presence", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.Save(ctx, record("v1", "u1", token.Refresh, base)))

		deleted, err := repo.Delete(ctx, "v1")
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.Delete(ctx, "v1")
		require.NoError(t, err)
		assert.False(t, deleted)

		got, err := repo.FindByUserAndType(ctx, "u1", token.Refresh)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("concurrent delete has one winner", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.Save(ctx, record("v1", "u1", token.ForgottenPassword, base)))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, err := repo.Delete(ctx, "v1"); err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("delete by user and type", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.Save(ctx, record("a", "u1", token.ForgottenPassword, base)))
		require.NoError(t, repo.Save(ctx, record("b", "u1", token.ForgottenPassword, base)))
		require.NoError(t, repo.Save(ctx, record("c", "u1", token.Refresh, base)))
		require.NoError(t, repo.Save(ctx, record("d", "u2", token.ForgottenPassword, base)))

		n, err := repo.DeleteByUserAndType(ctx, "u1", token.ForgottenPassword)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		left, err := repo.FindByUserAndType(ctx, "u1", token.Refresh)
		require.NoError(t, err)
		assert.Len(t, left, 1)
		other, err := repo.FindByUserAndType(ctx, "u2", token.ForgottenPassword)
		require.NoError(t, err)
		assert.Len(t, other, 1)

		n, err = repo.DeleteByUserAndType(ctx, "u1", token.ForgottenPassword)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("delete by user", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.Save(ctx, record("a", "u1", token.Refresh, base)))
		require.NoError(t, repo.Save(ctx, record("b", "u1", token.EmailUpdate, base)))
		require.NoError(t, repo.Save(ctx, record("c", "u2", token.Refresh, base)))

		n, err := repo.DeleteByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		all, err := repo.All(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "c", all[0].Value)

		n, err = repo.DeleteByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
