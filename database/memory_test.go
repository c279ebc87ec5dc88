package database

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ortelius/community-site/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUser(email string) *model.User {
	u := model.NewUser(email, "Test", "User")
	u.PasswordHash = "hash"
	return u
}

func TestMemoryStoreCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()

	u := newTestUser("Member@Example.com")
	require.NoError(t, store.CreateUser(ctx, u))
	require.NotEmpty(t, u.Key)

	byEmail, err := store.GetUserByEmail(ctx, "MEMBER@example.COM")
	require.NoError(t, err)
	assert.Equal(t, u.Key, byEmail.Key)
	assert.Equal(t, "member@example.com", byEmail.Email)

	byKey, err := store.GetUserByKey(ctx, u.Key)
	require.NoError(t, err)
	assert.Equal(t, byEmail, byKey)

	_, err = store.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = store.GetUserByKey(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryStoreDuplicateEmailAnyCase(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()

	require.NoError(t, store.CreateUser(ctx, newTestUser("a@x.com")))
	assert.ErrorIs(t, store.CreateUser(ctx, newTestUser("A@X.COM")), ErrDuplicateEmail)
	assert.ErrorIs(t, store.CreateUser(ctx, newTestUser(" a@x.com ")), ErrDuplicateEmail)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()
	u := newTestUser("a@x.com")
	require.NoError(t, store.CreateUser(ctx, u))

	got, err := store.GetUserByKey(ctx, u.Key)
	require.NoError(t, err)
	got.Role = model.RoleAdmin

	again, err := store.GetUserByKey(ctx, u.Key)
	require.NoError(t, err)
	assert.Equal(t, model.RoleViewer, again.Role)
}

func TestMemoryStoreListUsersOrdered(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, email := range []string{"c@x.com", "a@x.com", "b@x.com"} {
		u := newTestUser(email)
		u.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.CreateUser(ctx, u))
	}

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "c@x.com", users[0].Email)
	assert.Equal(t, "a@x.com", users[1].Email)
	assert.Equal(t, "b@x.com", users[2].Email)
}

func TestMemoryStoreUpdateRoleAndProfile(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()
	u := newTestUser("a@x.com")
	require.NoError(t, store.CreateUser(ctx, u))
	now := time.Now().UTC()

	updated, err := store.UpdateRole(ctx, u.Key, model.RoleEditor, now)
	require.NoError(t, err)
	assert.Equal(t, model.RoleEditor, updated.Role)

	bio := "hello"
	updated, err = store.UpdateProfile(ctx, u.Key, model.ProfileUpdate{Bio: &bio}, now)
	require.NoError(t, err)
	assert.Equal(t, "hello", updated.Bio)
	assert.Equal(t, "a@x.com", updated.Email)

	_, err = store.UpdateRole(ctx, "missing", model.RoleAdmin, now)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryStoreResetTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()
	u := newTestUser("a@x.com")
	require.NoError(t, store.CreateUser(ctx, u))

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetResetToken(ctx, u.Key, "tok", now.Add(time.Hour)))

	found, err := store.FindByResetToken(ctx, "tok", now)
	require.NoError(t, err)
	assert.Equal(t, u.Key, found.Key)

	_, err = store.FindByResetToken(ctx, "tok", now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrUserNotFound)

	consumed, err := store.ConsumeResetToken(ctx, "tok", now, "newhash")
	require.NoError(t, err)
	assert.Equal(t, "newhash", consumed.PasswordHash)
	assert.Nil(t, consumed.ResetToken)
	assert.Nil(t, consumed.ResetExpires)

	_, err = store.ConsumeResetToken(ctx, "tok", now, "other")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryStoreClearResetToken(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()
	u := newTestUser("a@x.com")
	require.NoError(t, store.CreateUser(ctx, u))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.SetResetToken(ctx, u.Key, "old", past))
	require.NoError(t, store.ClearResetToken(ctx, "old"))

	got, err := store.GetUserByKey(ctx, u.Key)
	require.NoError(t, err)
	assert.Nil(t, got.ResetToken)
	assert.Nil(t, got.ResetExpires)
}

func TestMemoryStoreConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()
	u := newTestUser("a@x.com")
	require.NoError(t, store.CreateUser(ctx, u))

	now := time.Now()
	require.NoError(t, store.SetResetToken(ctx, u.Key, "race", now.Add(time.Hour)))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeResetToken(ctx, "race", now, "h"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
