package repository

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smeportal/onboarding-server/internal/database"
	"github.com/smeportal/onboarding-server/internal/model"
)

func TestPostgresUserRepository(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewPostgresUserRepository(db)
	ctx := context.Background()
	email := "pg-" + uuid.NewString() + "@test.com"

	created, err := repo.Create(ctx, model.CreateUserParams{
		Email:        email,
		PasswordHash: "hash",
		FullName:     "Postgres Tester",
		Role:         model.RoleRelationshipManager,
		MFAEnabled:   true,
		AccessScope:  &model.AccessScope{Products: []string{"term-loan"}, MaxAmount: 100000},
	})
	require.NoError(t, err)
	assert.True(t, created.IsActive)
	require.NotNil(t, created.AccessScope)
	assert.Equal(t, []string{"term-loan"}, created.AccessScope.Products)
	assert.Nil(t, created.Business)

	t.Run("duplicate email", func(t *testing.T) {
		_, err := repo.Create(ctx, model.CreateUserParams{Email: email, Role: model.RoleCustomer})
		assert.ErrorIs(t, err, ErrDuplicateEmail)
	})

	t.Run("find by email", func(t *testing.T) {
		user, err := repo.FindByEmail(ctx, email)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, created.ID, user.ID)
	})

	t.Run("update under row lock", func(t *testing.T) {
		updated, err := repo.Update(ctx, created.ID, func(u *model.User) error {
			u.IsActive = false
			u.AccessScope.MaxAmount = 5000
			return nil
		})
		require.NoError(t, err)
		assert.False(t, updated.IsActive)
		assert.Equal(t, int64(5000), updated.AccessScope.MaxAmount)
	})

	t.Run("update of unknown user", func(t *testing.T) {
		_, err := repo.Update(ctx, uuid.NewString(), func(u *model.User) error { return nil })
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestPostgresUserRepository_MalformedIDs(t *testing.T) {
	// malformed ids never reach the database
	repo := NewPostgresUserRepository(nil)
	ctx := context.Background()

	user, err := repo.FindByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, user)

	_, err = repo.Update(ctx, "missing", func(u *model.User) error { return nil })
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.ErrorIs(t, repo.UpdateLastLogin(ctx, "42"), ErrUserNotFound)
}

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.Connect(url)
	require.NoError(t, err)
	require.NoError(t, database.EnsureSchema(context.Background(), db))
	return db
}
