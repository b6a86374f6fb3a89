package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/smeportal/onboarding-server/internal/model"
	"github.com/smeportal/onboarding-server/internal/util"
)

// DemoPassword is shared by every seeded demo account.
const DemoPassword = "password123"

type demoUser struct {
	params model.CreateUserParams
	active bool
}

func demoUsers() []demoUser {
	return []demoUser{
		{
			params: model.CreateUserParams{
				Email:      "customer@test.com",
				FullName:   "Sam Taylor",
				Role:       model.RoleCustomer,
				MFAEnabled: true,
				Business: &model.BusinessProfile{
					BusinessName: "Taylor & Co Bakery",
					BusinessType: model.BusinessTypeSoleTrader,
					Region:       "london",
				},
			},
			active: true,
		},
		{
			params: model.CreateUserParams{
				Email:      "director@test.com",
				FullName:   "Priya Shah",
				Role:       model.RoleCustomer,
				MFAEnabled: false,
				Business: &model.BusinessProfile{
					BusinessName: "Shah Logistics Ltd",
					BusinessType: model.BusinessTypeLimitedCompany,
					Region:       "midlands",
				},
			},
			active: true,
		},
		{
			params: model.CreateUserParams{
				Email:      "rm@test.com",
				FullName:   "Alex Morgan",
				Role:       model.RoleRelationshipManager,
				MFAEnabled: true,
				AccessScope: &model.AccessScope{
					Products:  []string{"term-loan", "green-loan", "overdraft", "business-credit-card"},
					Regions:   []string{"london", "south-east"},
					MaxAmount: 250000,
				},
			},
			active: true,
		},
		{
			params: model.CreateUserParams{
				Email:      "senior.rm@test.com",
				FullName:   "Jordan Ellis",
				Role:       model.RoleRelationshipManager,
				MFAEnabled: true,
				AccessScope: &model.AccessScope{
					Products: []string{
						"term-loan", "green-loan", "revolving-credit", "overdraft",
						"invoice-finance", "asset-finance", "business-credit-card", "merchant-services",
					},
					MaxAmount: 2000000,
				},
			},
			active: true,
		},
		{
			params: model.CreateUserParams{
				Email:      "admin@test.com",
				FullName:   "Casey Admin",
				Role:       model.RoleSuperuser,
				MFAEnabled: true,
			},
			active: true,
		},
		{
			params: model.CreateUserParams{
				Email:      "inactive@test.com",
				FullName:   "Robin Former",
				Role:       model.RoleCustomer,
				MFAEnabled: true,
				Business: &model.BusinessProfile{
					BusinessName: "Closed Trading",
					BusinessType: model.BusinessTypePartnership,
				},
			},
			active: false,
		},
	}
}

// SeedDemoUsers creates the demo accounts, skipping any that already exist.
func SeedDemoUsers(ctx context.Context, repo UserRepository, bcryptCost int) error {
	hash, err := util.HashPassword(DemoPassword, bcryptCost)
	if err != nil {
		return fmt.Errorf("hash demo password: %w", err)
	}

	created := 0
	for _, demo := range demoUsers() {
		params := demo.params
		params.PasswordHash = hash

		user, err := repo.Create(ctx, params)
		if errors.Is(err, ErrDuplicateEmail) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed %s: %w", params.Email, err)
		}

		if !demo.active {
			if _, err := repo.Update(ctx, user.ID, func(u *model.User) error {
				u.IsActive = false
				return nil
			}); err != nil {
				return fmt.Errorf("deactivate %s: %w", params.Email, err)
			}
		}
		created++
	}

	log.Info().Int("count", created).Msg("demo users seeded")
	return nil
}
