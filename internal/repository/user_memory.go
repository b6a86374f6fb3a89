package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smeportal/onboarding-server/internal/model"
	"github.com/smeportal/onboarding-server/internal/util"
)

type userEntry struct {
	mu   sync.RWMutex
	user *model.User
}

type memoryUserRepo struct {
	mu      sync.RWMutex
	byID    map[string]*userEntry
	byEmail map[string]*userEntry
	now     func() time.Time
}

func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepo{
		byID:    make(map[string]*userEntry),
		byEmail: make(map[string]*userEntry),
		now:     time.Now,
	}
}

func (r *memoryUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	entry := r.byID[id]
	r.mu.RUnlock()
	return entry.read(), nil
}

func (r *memoryUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	entry := r.byEmail[util.NormalizeEmail(email)]
	r.mu.RUnlock()
	return entry.read(), nil
}

func (r *memoryUserRepo) FindAll(ctx context.Context, limit, offset int) ([]model.User, error) {
	r.mu.RLock()
	entries := make([]*userEntry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	users := make([]model.User, 0, len(entries))
	for _, e := range entries {
		users = append(users, *e.read())
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].Email < users[j].Email
		}
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})

	if offset >= len(users) {
		return []model.User{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(users) {
		end = len(users)
	}
	return users[offset:end], nil
}

func (r *memoryUserRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	email := util.NormalizeEmail(params.Email)
	now := r.now()

	user := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: params.PasswordHash,
		FullName:     params.FullName,
		Role:         params.Role,
		MFAEnabled:   params.MFAEnabled,
		IsActive:     true,
		Business:     params.Business,
		AccessScope:  params.AccessScope,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	user = user.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[email]; exists {
		return nil, ErrDuplicateEmail
	}
	entry := &userEntry{user: user}
	r.byID[user.ID] = entry
	r.byEmail[email] = entry

	return user.Clone(), nil
}

func (r *memoryUserRepo) Update(ctx context.Context, id string, fn func(u *model.User) error) (*model.User, error) {
	r.mu.RLock()
	entry := r.byID[id]
	r.mu.RUnlock()
	if entry == nil {
		return nil, ErrUserNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	draft := entry.user.Clone()
	if err := fn(draft); err != nil {
		return nil, err
	}
	// identity fields are not editable
	draft.ID = entry.user.ID
	draft.Email = entry.user.Email
	draft.CreatedAt = entry.user.CreatedAt
	draft.UpdatedAt = r.now()

	entry.user = draft
	return draft.Clone(), nil
}

func (r *memoryUserRepo) UpdateLastLogin(ctx context.Context, id string) error {
	_, err := r.Update(ctx, id, func(u *model.User) error {
		now := r.now()
		u.LastLoginAt = &now
		return nil
	})
	return err
}

func (r *memoryUserRepo) CountByRole(ctx context.Context) (map[model.Role]int, error) {
	r.mu.RLock()
	entries := make([]*userEntry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	counts := make(map[model.Role]int)
	for _, e := range entries {
		counts[e.read().Role]++
	}
	return counts, nil
}

func (e *userEntry) read() *model.User {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.user.Clone()
}
