package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/smeportal/onboarding-server/internal/database"
	"github.com/smeportal/onboarding-server/internal/model"
	"github.com/smeportal/onboarding-server/internal/util"
)

const uniqueViolation = "23505"

type postgresUserRepo struct {
	db *database.DB
}

func NewPostgresUserRepository(db *database.DB) UserRepository {
	return &postgresUserRepo{db: db}
}

// validID filters ids the uuid column would reject with a syntax error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *postgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if !validID(id) {
		return nil, nil
	}
	var user model.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = $1`, id)
	return HandleNotFound(&user, err)
}

func (r *postgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM users WHERE email = $1
	`, util.NormalizeEmail(email))
	return HandleNotFound(&user, err)
}

func (r *postgresUserRepo) FindAll(ctx context.Context, limit, offset int) ([]model.User, error) {
	// LIMIT NULL is unbounded
	var lim any
	if limit > 0 {
		lim = limit
	}

	var users []model.User
	err := r.db.SelectContext(ctx, &users, `
		SELECT * FROM users
		ORDER BY created_at DESC, email
		LIMIT $1 OFFSET $2
	`, lim, offset)
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *postgresUserRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		INSERT INTO users (email, password_hash, full_name, role, mfa_enabled, business, access_scope)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, util.NormalizeEmail(params.Email), params.PasswordHash, params.FullName, params.Role,
		params.MFAEnabled, params.Business, params.AccessScope)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return &user, nil
}

// Update locks the row for the duration of fn so admin edits cannot
// interleave with a concurrent read-modify-write of the same account.
func (r *postgresUserRepo) Update(ctx context.Context, id string, fn func(u *model.User) error) (*model.User, error) {
	if !validID(id) {
		return nil, ErrUserNotFound
	}
	var updated model.User
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var current model.User
		err := tx.GetContext(ctx, &current, `SELECT * FROM users WHERE id = $1 FOR UPDATE`, id)
		found, err := HandleNotFound(&current, err)
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		if found == nil {
			return ErrUserNotFound
		}

		if err := fn(&current); err != nil {
			return err
		}

		return tx.GetContext(ctx, &updated, `
			UPDATE users SET
				full_name = $2,
				role = $3,
				mfa_enabled = $4,
				is_active = $5,
				business = $6,
				access_scope = $7,
				password_hash = $8,
				last_login_at = $9,
				updated_at = $10
			WHERE id = $1
			RETURNING *
		`, id, current.FullName, current.Role, current.MFAEnabled, current.IsActive,
			current.Business, current.AccessScope, current.PasswordHash, current.LastLoginAt, time.Now())
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *postgresUserRepo) UpdateLastLogin(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrUserNotFound
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET last_login_at = $2 WHERE id = $1
	`, id, time.Now())
	return err
}

func (r *postgresUserRepo) CountByRole(ctx context.Context) (map[model.Role]int, error) {
	var rows []struct {
		Role  model.Role `db:"role"`
		Count int        `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT role, COUNT(*) AS count FROM users GROUP BY role
	`)
	if err != nil {
		return nil, err
	}

	counts := make(map[model.Role]int, len(rows))
	for _, row := range rows {
		counts[row.Role] = row.Count
	}
	return counts, nil
}
