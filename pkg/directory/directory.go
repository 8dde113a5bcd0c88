// Package directory resolves user and organization references for the
// billing engine. The engine only ever reads the directory; accounts are
// managed by the surrounding administrative system.
package directory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/duetrack/duetrack/pkg/billing"
)

// PostgresDirectory reads users and organizations from the shared database.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a directory over an existing database handle.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// GetUser returns the user with the given ID, or billing.ErrUserNotFound.
func (d *PostgresDirectory) GetUser(ctx context.Context, userID int64) (*billing.User, error) {
	var u billing.User
	err := d.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, email, active
		FROM users
		WHERE id = $1
	`, userID).Scan(&u.ID, &u.OrganizationID, &u.Name, &u.Email, &u.Active)
	if err == sql.ErrNoRows {
		return nil, billing.ErrUserNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// ListUsers returns the users of one organization, ordered by ID.
func (d *PostgresDirectory) ListUsers(ctx context.Context, organizationID int64, limit int) ([]*billing.User, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, organization_id, name, email, active
		FROM users
		WHERE organization_id = $1
		ORDER BY id
		LIMIT $2
	`, organizationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*billing.User
	for rows.Next() {
		var u billing.User
		if err := rows.Scan(&u.ID, &u.OrganizationID, &u.Name, &u.Email, &u.Active); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// StaticDirectory serves a fixed user set. Tests and the example server use
// it in place of the shared database.
type StaticDirectory struct {
	users map[int64]*billing.User
}

// NewStaticDirectory creates a directory over a fixed user set.
func NewStaticDirectory(users ...*billing.User) *StaticDirectory {
	m := make(map[int64]*billing.User, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	return &StaticDirectory{users: m}
}

// GetUser returns the user with the given ID, or billing.ErrUserNotFound.
func (d *StaticDirectory) GetUser(ctx context.Context, userID int64) (*billing.User, error) {
	u, ok := d.users[userID]
	if !ok {
		return nil, billing.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}
