// Package postgres provides the PostgreSQL implementation of the
// identity repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teleswap/exchange-desk/internal/domain"
	"github.com/teleswap/exchange-desk/internal/identity"
)

// Repository implements identity.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL identity repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// UpsertUser inserts or refreshes the user profile keyed by telegram id.
func (r *Repository) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, first_name, username, language_code, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			username = EXCLUDED.username,
			language_code = EXCLUDED.language_code,
			role = EXCLUDED.role,
			updated_at = NOW()`

	_, err := r.db.Exec(ctx, query,
		user.ID, user.FirstName, user.Username, user.LanguageCode, user.Role)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	return nil
}

// GetUserByID returns the user with the given telegram id.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `
		SELECT id, first_name, username, language_code, role
		FROM users
		WHERE id = $1`

	var user domain.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.FirstName, &user.Username, &user.LanguageCode, &user.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}

	return &user, nil
}
