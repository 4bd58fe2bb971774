package registry

import (
	"context"
	"fmt"
	"time"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/jmoiron/sqlx"
)

const userColumns = `id, email, hashed_password, is_admin, status, registration_date, approval_date`

func (s *Store) UserByEmail(ctx context.Context, email string) (*database.User, error) {
	var u database.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
	if err != nil {
		return nil, notFound(err, "user "+email)
	}
	return &u, nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (*database.User, error) {
	var u database.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("user %d", id))
	}
	return &u, nil
}

// CreateUser inserts a user. Approved users get an approval timestamp.
// A duplicate email yields ErrConflict.
func (s *Store) CreateUser(ctx context.Context, email, hash string, isAdmin bool, status database.UserStatus) (*database.User, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE email=$1)`, email); err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("user %s: %w", email, ErrConflict)
	}
	var approved *time.Time
	if status == database.UserApproved {
		now := time.Now().UTC()
		approved = &now
	}
	var u database.User
	row := s.db.QueryRowxContext(ctx, `INSERT INTO users (email, hashed_password, is_admin, status, approval_date) VALUES ($1,$2,$3,$4,$5) RETURNING `+userColumns,
		email, hash, isAdmin, status, approved)
	if err := row.StructScan(&u); err != nil {
		return nil, conflict(err, "user "+email)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]database.User, error) {
	users := []database.User{}
	if err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *Store) PendingUsers(ctx context.Context) ([]database.User, error) {
	users := []database.User{}
	if err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE status=$1 ORDER BY registration_date`, database.UserPending); err != nil {
		return nil, fmt.Errorf("list pending users: %w", err)
	}
	return users, nil
}

// SetUserStatus records an admin decision on an account.
func (s *Store) SetUserStatus(ctx context.Context, id int64, status database.UserStatus) error {
	var approved *time.Time
	if status == database.UserApproved {
		now := time.Now().UTC()
		approved = &now
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET status=$1, approval_date=$2 WHERE id=$3`, status, approved, id)
	if err != nil {
		return fmt.Errorf("update user %d: %w", id, err)
	}
	return requireRow(res, fmt.Sprintf("user %d", id))
}

// BulkResult reports per-email outcomes of BulkCreateUsers.
type BulkResult struct {
	Created []string          `json:"created"`
	Skipped map[string]string `json:"skipped"`
}

// BulkCreateUsers adds approved users in one transaction. Existing emails are
// skipped, not overwritten.
func (s *Store) BulkCreateUsers(ctx context.Context, users map[string]string) (BulkResult, error) {
	res := BulkResult{Created: []string{}, Skipped: map[string]string{}}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		for email, hash := range users {
			r, err := tx.ExecContext(ctx, `INSERT INTO users (email, hashed_password, is_admin, status, approval_date) VALUES ($1,$2,false,$3,$4) ON CONFLICT (email) DO NOTHING`,
				email, hash, database.UserApproved, now)
			if err != nil {
				return fmt.Errorf("insert user %s: %w", email, err)
			}
			if n, _ := r.RowsAffected(); n == 0 {
				res.Skipped[email] = "already exists"
				continue
			}
			res.Created = append(res.Created, email)
		}
		return nil
	})
	return res, err
}

// DeleteUser removes the user with their grants and requests. Access events
// keep the row with a null user.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM service_requests WHERE user_id=$1`, id); err != nil {
			return fmt.Errorf("delete requests: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_services WHERE user_id=$1`, id); err != nil {
			return fmt.Errorf("delete grants: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE service_access SET user_id=NULL WHERE user_id=$1`, id); err != nil {
			return fmt.Errorf("detach sessions: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return requireRow(res, fmt.Sprintf("user %d", id))
	})
}
