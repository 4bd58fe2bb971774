package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/jmoiron/sqlx"
)

// HasGrant reports whether userID may reach serviceID.
func (s *Store) HasGrant(ctx context.Context, userID int64, serviceID string) (bool, error) {
	var ok bool
	if err := s.db.GetContext(ctx, &ok, `SELECT EXISTS(SELECT 1 FROM user_services WHERE user_id=$1 AND service_id=$2)`, userID, serviceID); err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	return ok, nil
}

// ServiceUser is a grantee of a service.
type ServiceUser struct {
	UserID   int64  `db:"user_id" json:"user_id"`
	Email    string `db:"email" json:"email"`
	ShowInfo bool   `db:"show_info" json:"show_info"`
}

func (s *Store) UsersForService(ctx context.Context, serviceID string) ([]ServiceUser, error) {
	out := []ServiceUser{}
	if err := s.db.SelectContext(ctx, &out, `SELECT us.user_id, u.email, us.show_info FROM user_services us JOIN users u ON u.id=us.user_id WHERE us.service_id=$1 ORDER BY u.email`, serviceID); err != nil {
		return nil, fmt.Errorf("list users for service %s: %w", serviceID, err)
	}
	return out, nil
}

// GrantAccess gives a user access on an admin's behalf. An open request for the
// pair is approved, otherwise an approved admin_created request is recorded, so
// a grant always has a matching approved request.
func (s *Store) GrantAccess(ctx context.Context, userID int64, serviceID string, showInfo bool) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		var reqID int64
		err := tx.GetContext(ctx, &reqID, `SELECT id FROM service_requests WHERE user_id=$1 AND service_id=$2 AND status IN `+openStatuses+` FOR UPDATE`, userID, serviceID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `INSERT INTO service_requests (user_id, service_id, status, response_date, admin_created) VALUES ($1,$2,$3,$4,true)`,
				userID, serviceID, database.RequestApproved, now); err != nil {
				return fmt.Errorf("record grant request: %w", err)
			}
		case err != nil:
			return fmt.Errorf("check open request: %w", err)
		default:
			if _, err := tx.ExecContext(ctx, `UPDATE service_requests SET status=$1, response_date=$2 WHERE id=$3`, database.RequestApproved, now, reqID); err != nil {
				return fmt.Errorf("approve request %d: %w", reqID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_services (user_id, service_id, show_info) VALUES ($1,$2,$3) ON CONFLICT (user_id, service_id) DO UPDATE SET show_info=EXCLUDED.show_info`,
			userID, serviceID, showInfo); err != nil {
			return fmt.Errorf("grant access: %w", err)
		}
		return nil
	})
}

// RevokeAccess removes the grant and every open request for the pair.
func (s *Store) RevokeAccess(ctx context.Context, userID int64, serviceID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM user_services WHERE user_id=$1 AND service_id=$2`, userID, serviceID)
		if err != nil {
			return fmt.Errorf("revoke access: %w", err)
		}
		if err := requireRow(res, "grant"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM service_requests WHERE user_id=$1 AND service_id=$2 AND status IN `+openStatuses, userID, serviceID); err != nil {
			return fmt.Errorf("delete requests: %w", err)
		}
		return nil
	})
}

// SetGrantVisibility toggles whether the grantee sees connection details.
func (s *Store) SetGrantVisibility(ctx context.Context, userID int64, serviceID string, showInfo bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE user_services SET show_info=$1 WHERE user_id=$2 AND service_id=$3`, showInfo, userID, serviceID)
	if err != nil {
		return fmt.Errorf("update grant: %w", err)
	}
	return requireRow(res, "grant")
}
