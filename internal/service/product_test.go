package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/smeportal/onboarding-server/internal/errors"
	"github.com/smeportal/onboarding-server/internal/model"
)

func TestProductService(t *testing.T) {
	svc := NewProductService()
	ctx := context.Background()

	t.Run("lists the full catalog", func(t *testing.T) {
		products := svc.List(ctx, "")
		assert.Len(t, products, 8)
		assert.Equal(t, "term-loan", products[0].ID)
	})

	t.Run("filters by business type", func(t *testing.T) {
		for _, p := range svc.List(ctx, model.BusinessTypeSoleTrader) {
			assert.NotEqual(t, "revolving-credit", p.ID)
			assert.NotEqual(t, "invoice-finance", p.ID)
		}
	})

	t.Run("gets one product", func(t *testing.T) {
		p, err := svc.Get(ctx, "green-loan")
		require.NoError(t, err)
		assert.Equal(t, int64(1000000), p.MaxAmount)
	})

	t.Run("unknown product", func(t *testing.T) {
		_, err := svc.Get(ctx, "space-loan")
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("returned products are copies", func(t *testing.T) {
		p, _ := svc.Get(ctx, "term-loan")
		p.EligibleBusinessTypes[0] = "nobody"

		again, _ := svc.Get(ctx, "term-loan")
		assert.Equal(t, model.BusinessTypeSoleTrader, again.EligibleBusinessTypes[0])
	})
}
