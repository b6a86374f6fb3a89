package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smeportal/onboarding-server/internal/model"
)

func TestMemoryApplicationRepository(t *testing.T) {
	repo := NewMemoryApplicationRepository()
	ctx := context.Background()
	now := time.Now()

	first := &model.Application{ID: "app-1", OwnerID: "user-1", Status: model.ApplicationStatusDraft, CreatedAt: now}
	second := &model.Application{ID: "app-2", OwnerID: "user-2", Status: model.ApplicationStatusSubmitted, CreatedAt: now.Add(time.Minute)}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	t.Run("finds by id", func(t *testing.T) {
		app, err := repo.FindByID(ctx, "app-1")
		require.NoError(t, err)
		require.NotNil(t, app)
		assert.Equal(t, "user-1", app.OwnerID)
	})

	t.Run("missing id returns nil", func(t *testing.T) {
		app, err := repo.FindByID(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, app)
	})

	t.Run("lists newest first", func(t *testing.T) {
		apps, err := repo.FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, apps, 2)
		assert.Equal(t, "app-2", apps[0].ID)
	})

	t.Run("filters by owner", func(t *testing.T) {
		apps, err := repo.FindByOwnerID(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, apps, 1)
		assert.Equal(t, "app-1", apps[0].ID)
	})

	t.Run("update cannot change ownership", func(t *testing.T) {
		updated, err := repo.Update(ctx, "app-1", func(a *model.Application) error {
			a.OwnerID = "user-2"
			a.Status = model.ApplicationStatusSubmitted
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "user-1", updated.OwnerID)
		assert.Equal(t, model.ApplicationStatusSubmitted, updated.Status)
	})

	t.Run("update of unknown id", func(t *testing.T) {
		_, err := repo.Update(ctx, "nope", func(a *model.Application) error { return nil })
		assert.ErrorIs(t, err, ErrApplicationNotFound)
	})

	t.Run("counts by status", func(t *testing.T) {
		counts, err := repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, counts[model.ApplicationStatusSubmitted])
	})
}
