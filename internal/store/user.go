package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/examhall/examhall/internal/model"
)

// CreateUser inserts a new user with its role grants and returns the new ID.
func (s *Store) CreateUser(ctx context.Context, u model.User, roles []model.RoleGrant) (string, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = utcNow()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, username, display_name, password_hash, active, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			u.ID, u.Username, u.DisplayName, u.PasswordHash, u.Active, u.CreatedAt,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("user %q: %w", u.Username, ErrDuplicate)
		}
		if err != nil {
			return err
		}
		for _, g := range roles {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO user_roles (user_id, role, institute_id) VALUES ($1, $2, $3)
				 ON CONFLICT DO NOTHING`,
				u.ID, g.Role, g.InstituteID,
			); err != nil {
				return fmt.Errorf("grant %s: %w", g.Role, err)
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return "", err
	}
	slog.Info("created user", "id", u.ID, "username", u.Username, "roles", len(roles))
	return u.ID, nil
}

// GrantRole adds a role to an existing user. Granting twice is a no-op.
func (s *Store) GrantRole(ctx context.Context, userID string, g model.RoleGrant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role, institute_id) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		userID, g.Role, g.InstituteID,
	)
	return err
}

// ListRoles returns the role grants of a user.
func (s *Store) ListRoles(ctx context.Context, userID string) ([]model.RoleGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, institute_id FROM user_roles WHERE user_id = $1 ORDER BY role, institute_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []model.RoleGrant
	for rows.Next() {
		var g model.RoleGrant
		if err := rows.Scan(&g.Role, &g.InstituteID); err != nil {
			return nil, err
		}
		roles = append(roles, g)
	}
	return roles, rows.Err()
}

const userColumns = `id, username, display_name, password_hash, active, created_at`

// GetUserByUsername returns a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// GetUserByID returns a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Active, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all users.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserActive enables or disables a user.
func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET active = $1 WHERE id = $2`, active, id)
	return err
}

// UserCount returns the total number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
