package database

import (
	"context"
	"testing"
	"time"

	"tiktok-sheets/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(id string) *models.Account {
	task := models.DefaultTask()
	return &models.Account{
		ID:                   id,
		AppKey:               "app-key",
		AppSecret:            "app-secret",
		AuthCode:             "auth-code",
		AccessToken:          "access",
		RefreshToken:         "refresh",
		AccessTokenExpireIn:  1_700_000_000,
		RefreshTokenExpireIn: 1_800_000_000,
		ShopCiphers:          []models.ShopCipher{{Cipher: "c1", Region: "TH", Name: "Shop"}},
		Enabled:              true,
		Task:                 &task,
	}
}

func TestAccounts_CreateAndFind(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := newAccount("")
	require.NoError(t, db.CreateAccount(ctx, a))
	assert.NotEmpty(t, a.ID)
	assert.False(t, a.CreatedAt.IsZero())

	got, err := db.FindOne(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "app-secret", got.AppSecret)
	assert.Equal(t, "refresh", got.RefreshToken)
	assert.Equal(t, int64(1_700_000_000), got.AccessTokenExpireIn)
	assert.Equal(t, a.ShopCiphers, got.ShopCiphers)
	assert.Equal(t, "TH", got.Region())
	require.NotNil(t, got.Task)
	assert.Equal(t, models.DefaultCronExpression, got.Task.CronExpression)
	assert.True(t, got.Task.IsActive)
	assert.Nil(t, got.Task.LastRun)
	assert.True(t, got.Eligible())

	assert.Error(t, db.CreateAccount(ctx, newAccount(a.ID)), "duplicate id")
}

func TestAccounts_FindOneMissing(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.FindOne(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccounts_NilTaskRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := newAccount("no-task")
	a.Task = nil
	a.ShopCiphers = nil
	require.NoError(t, db.CreateAccount(ctx, a))

	got, err := db.FindOne(ctx, "no-task")
	require.NoError(t, err)
	assert.Nil(t, got.Task)
	assert.Empty(t, got.ShopCiphers)
	assert.False(t, got.Eligible())
}

func TestAccounts_FindAllOrdered(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"b", "a", "c"} {
		a := newAccount(id)
		a.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, db.CreateAccount(ctx, a))
	}

	all, err := db.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].ID)
	assert.Equal(t, "a", all[1].ID)
	assert.Equal(t, "c", all[2].ID)
}

func TestAccounts_Update(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.CreateAccount(ctx, newAccount("acc")))

	t.Run("tokens", func(t *testing.T) {
		access, refresh := "new-access", "new-refresh"
		expire := int64(1_750_000_000)
		got, err := db.Update(ctx, "acc", models.AccountUpdate{
			AccessToken:         &access,
			RefreshToken:        &refresh,
			AccessTokenExpireIn: &expire,
		})
		require.NoError(t, err)
		assert.Equal(t, "new-access", got.AccessToken)
		assert.Equal(t, "new-refresh", got.RefreshToken)
		assert.Equal(t, expire, got.AccessTokenExpireIn)
		assert.Equal(t, int64(1_800_000_000), got.RefreshTokenExpireIn)
		assert.Equal(t, "app-secret", got.AppSecret)
	})

	t.Run("task round trips", func(t *testing.T) {
		lastRun := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
		task := &models.Task{CronExpression: "*/5 * * * *", IsActive: false, LastRun: &lastRun}
		got, err := db.Update(ctx, "acc", models.AccountUpdate{Task: task})
		require.NoError(t, err)
		require.NotNil(t, got.Task)
		assert.Equal(t, "*/5 * * * *", got.Task.CronExpression)
		assert.False(t, got.Task.IsActive)
		require.NotNil(t, got.Task.LastRun)
		assert.True(t, lastRun.Equal(*got.Task.LastRun))
	})

	t.Run("last run leaves task settings", func(t *testing.T) {
		ran := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
		got, err := db.Update(ctx, "acc", models.AccountUpdate{TaskLastRun: &ran})
		require.NoError(t, err)
		require.NotNil(t, got.Task)
		assert.Equal(t, "*/5 * * * *", got.Task.CronExpression)
		assert.False(t, got.Task.IsActive)
		require.NotNil(t, got.Task.LastRun)
		assert.True(t, ran.Equal(*got.Task.LastRun))
	})

	t.Run("enabled and spreadsheet", func(t *testing.T) {
		disabled := false
		sheet := "sheet-123"
		got, err := db.Update(ctx, "acc", models.AccountUpdate{Enabled: &disabled, SpreadsheetID: &sheet})
		require.NoError(t, err)
		assert.False(t, got.Enabled)
		assert.Equal(t, "sheet-123", got.SpreadsheetID)
		assert.Equal(t, "*/5 * * * *", got.Task.CronExpression)
	})

	t.Run("missing", func(t *testing.T) {
		enabled := true
		_, err := db.Update(ctx, "ghost", models.AccountUpdate{Enabled: &enabled})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAccounts_Delete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.CreateAccount(ctx, newAccount("gone")))

	require.NoError(t, db.DeleteAccount(ctx, "gone"))
	_, err := db.FindOne(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.DeleteAccount(ctx, "gone"), ErrNotFound)
}
