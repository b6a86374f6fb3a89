package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/smeportal/onboarding-server/internal/model"
)

var ErrApplicationNotFound = errors.New("application not found")

type ApplicationRepository interface {
	FindByID(ctx context.Context, id string) (*model.Application, error)
	FindByOwnerID(ctx context.Context, ownerID string) ([]model.Application, error)
	FindAll(ctx context.Context) ([]model.Application, error)
	Create(ctx context.Context, app *model.Application) error
	Update(ctx context.Context, id string, fn func(app *model.Application) error) (*model.Application, error)
	CountByStatus(ctx context.Context) (map[model.ApplicationStatus]int, error)
}

type memoryApplicationRepo struct {
	mu   sync.RWMutex
	apps map[string]*model.Application
}

func NewMemoryApplicationRepository() ApplicationRepository {
	return &memoryApplicationRepo{apps: make(map[string]*model.Application)}
}

func (r *memoryApplicationRepo) FindByID(ctx context.Context, id string) (*model.Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.apps[id].Clone(), nil
}

func (r *memoryApplicationRepo) FindByOwnerID(ctx context.Context, ownerID string) ([]model.Application, error) {
	return r.filter(func(a *model.Application) bool { return a.OwnerID == ownerID }), nil
}

func (r *memoryApplicationRepo) FindAll(ctx context.Context) ([]model.Application, error) {
	return r.filter(func(*model.Application) bool { return true }), nil
}

func (r *memoryApplicationRepo) Create(ctx context.Context, app *model.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[app.ID] = app.Clone()
	return nil
}

func (r *memoryApplicationRepo) Update(ctx context.Context, id string, fn func(app *model.Application) error) (*model.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.apps[id]
	if !ok {
		return nil, ErrApplicationNotFound
	}

	draft := current.Clone()
	if err := fn(draft); err != nil {
		return nil, err
	}
	draft.ID = current.ID
	draft.OwnerID = current.OwnerID

	r.apps[id] = draft
	return draft.Clone(), nil
}

func (r *memoryApplicationRepo) CountByStatus(ctx context.Context) (map[model.ApplicationStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[model.ApplicationStatus]int)
	for _, a := range r.apps {
		counts[a.Status]++
	}
	return counts, nil
}

func (r *memoryApplicationRepo) filter(keep func(*model.Application) bool) []model.Application {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Application, 0)
	for _, a := range r.apps {
		if keep(a) {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
