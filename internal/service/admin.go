package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/smeportal/onboarding-server/internal/audit"
	"github.com/smeportal/onboarding-server/internal/auth"
	apperrors "github.com/smeportal/onboarding-server/internal/errors"
	"github.com/smeportal/onboarding-server/internal/model"
	"github.com/smeportal/onboarding-server/internal/repository"
	"github.com/smeportal/onboarding-server/internal/util"
)

const minPasswordLength = 8

// SessionRegistry is the part of the session registry user administration
// needs: revoking a user's live logins and reporting what is live.
type SessionRegistry interface {
	EndSessionsForUser(userID string) int
	CountByState() map[auth.State]int
}

type CreateUserInput struct {
	Email       string                 `json:"email"`
	Password    string                 `json:"password"`
	FullName    string                 `json:"fullName"`
	Role        model.Role             `json:"role"`
	MFAEnabled  bool                   `json:"mfaEnabled"`
	Business    *model.BusinessProfile `json:"business,omitempty"`
	AccessScope *model.AccessScope     `json:"accessScope,omitempty"`
}

// UpdateUserInput carries a partial update; nil fields are left alone.
type UpdateUserInput struct {
	IsActive    *bool              `json:"isActive,omitempty"`
	Role        *model.Role        `json:"role,omitempty"`
	AccessScope *model.AccessScope `json:"accessScope,omitempty"`
	MFAEnabled  *bool              `json:"mfaEnabled,omitempty"`
}

type AdminStats struct {
	Users        map[model.Role]int              `json:"users"`
	Sessions     map[auth.State]int              `json:"sessions"`
	Applications map[model.ApplicationStatus]int `json:"applications"`
}

type AdminService struct {
	users      repository.UserRepository
	apps       *ApplicationService
	products   *ProductService
	sessions   SessionRegistry
	bcryptCost int
}

func NewAdminService(
	users repository.UserRepository,
	apps *ApplicationService,
	products *ProductService,
	sessions SessionRegistry,
	bcryptCost int,
) *AdminService {
	return &AdminService{
		users:      users,
		apps:       apps,
		products:   products,
		sessions:   sessions,
		bcryptCost: bcryptCost,
	}
}

func (s *AdminService) ListUsers(ctx context.Context, limit, offset int) ([]model.User, int, error) {
	users, err := s.users.FindAll(ctx, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Database(err)
	}

	counts, err := s.users.CountByRole(ctx)
	if err != nil {
		return nil, 0, apperrors.Database(err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return users, total, nil
}

func (s *AdminService) GetUser(ctx context.Context, id string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.NotFound("User")
	}
	return user, nil
}

// CreateUser provisions a customer or relationship manager account.
func (s *AdminService) CreateUser(ctx context.Context, actor *model.User, in CreateUserInput) (*model.User, error) {
	in.Email = util.NormalizeEmail(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)

	errs := fieldErrors{}
	if !util.IsValidEmail(in.Email) {
		errs["email"] = "Enter a valid email address"
	}
	if len(in.Password) < minPasswordLength {
		errs["password"] = fmt.Sprintf("Password must be at least %d characters", minPasswordLength)
	}
	errs.require("fullName", in.FullName, "Full name is required")

	switch in.Role {
	case model.RoleCustomer:
		if in.Business == nil || !in.Business.BusinessType.Valid() {
			errs["business.businessType"] = "Choose a business type"
		} else if strings.TrimSpace(in.Business.BusinessName) == "" {
			errs["business.businessName"] = "Business name is required"
		}
		in.AccessScope = nil
	case model.RoleRelationshipManager:
		s.validateScope(errs, in.AccessScope)
		in.Business = nil
	default:
		errs["role"] = "Accounts can be provisioned as customer or relationship_manager"
	}
	if len(errs) > 0 {
		return nil, apperrors.FieldErrors(errs)
	}

	hash, err := util.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to hash password", err)
	}

	user, err := s.users.Create(ctx, model.CreateUserParams{
		Email:        in.Email,
		PasswordHash: hash,
		FullName:     in.FullName,
		Role:         in.Role,
		MFAEnabled:   in.MFAEnabled,
		Business:     in.Business,
		AccessScope:  in.AccessScope,
	})
	if errors.Is(err, repository.ErrDuplicateEmail) {
		return nil, apperrors.AlreadyExists("An account with this email")
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{
		Type:    audit.EventUserCreate,
		UserID:  actor.ID,
		Details: map[string]interface{}{"target_user_id": user.ID, "role": string(user.Role)},
	})
	return user, nil
}

// UpdateUser applies an administrative change. Deactivation, a role change
// or a scope change ends the user's live sessions so the next request is
// checked against the new account.
func (s *AdminService) UpdateUser(ctx context.Context, actor *model.User, id string, in UpdateUserInput) (*model.User, error) {
	if id == actor.ID && (in.IsActive != nil && !*in.IsActive || in.Role != nil && *in.Role != actor.Role) {
		return nil, apperrors.InvalidState("You cannot deactivate or change the role of your own account")
	}
	if in.AccessScope != nil {
		errs := fieldErrors{}
		s.validateScope(errs, in.AccessScope)
		if len(errs) > 0 {
			return nil, apperrors.FieldErrors(errs)
		}
	}

	var (
		revoke  bool
		changes = map[string]interface{}{}
	)
	user, err := s.users.Update(ctx, id, func(u *model.User) error {
		if in.Role != nil && *in.Role != u.Role {
			if !in.Role.Valid() {
				return apperrors.FieldErrors(map[string]string{"role": "Unknown role"})
			}
			changes["role"] = string(*in.Role)
			u.Role = *in.Role
			revoke = true
		}
		if in.IsActive != nil && *in.IsActive != u.IsActive {
			changes["is_active"] = *in.IsActive
			u.IsActive = *in.IsActive
			revoke = revoke || !u.IsActive
		}
		if in.MFAEnabled != nil && *in.MFAEnabled != u.MFAEnabled {
			changes["mfa_enabled"] = *in.MFAEnabled
			u.MFAEnabled = *in.MFAEnabled
		}
		if in.AccessScope != nil {
			scope := in.AccessScope.Clone()
			u.AccessScope = &scope
			changes["access_scope"] = true
			revoke = true
		}
		if u.Role == model.RoleRelationshipManager && u.AccessScope == nil {
			return apperrors.FieldErrors(map[string]string{"accessScope": "Relationship managers need an access scope"})
		}
		return nil
	})
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		return nil, apperrors.NotFound("User")
	case apperrors.IsAppError(err):
		return nil, err
	case err != nil:
		return nil, apperrors.Database(fmt.Errorf("update user %s: %w", id, err))
	}

	ended := 0
	if revoke && s.sessions != nil {
		ended = s.sessions.EndSessionsForUser(user.ID)
	}

	changes["target_user_id"] = user.ID
	changes["sessions_ended"] = ended
	audit.Log(ctx, audit.Event{Type: audit.EventUserUpdate, UserID: actor.ID, Details: changes})

	return user, nil
}

func (s *AdminService) Stats(ctx context.Context) (*AdminStats, error) {
	users, err := s.users.CountByRole(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	apps, err := s.apps.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &AdminStats{Users: users, Applications: apps, Sessions: map[auth.State]int{}}
	if s.sessions != nil {
		stats.Sessions = s.sessions.CountByState()
	}

	log.Debug().Interface("users", users).Interface("applications", apps).Msg("admin stats computed")
	return stats, nil
}

func (s *AdminService) validateScope(errs fieldErrors, scope *model.AccessScope) {
	if scope == nil {
		errs["accessScope"] = "Relationship managers need an access scope"
		return
	}
	if len(scope.Products) == 0 {
		errs["accessScope.products"] = "Choose at least one product"
	}
	catalog := s.products.IDs()
	for i, p := range scope.Products {
		if !slices.Contains(catalog, p) {
			errs[fmt.Sprintf("accessScope.products[%d]", i)] = "Unknown product"
		}
	}
	if scope.MaxAmount <= 0 {
		errs["accessScope.maxAmount"] = "Maximum amount must be positive"
	}
}
