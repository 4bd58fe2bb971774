package registry

import (
	"context"
	"fmt"
	"time"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/jmoiron/sqlx"
)

const requestColumns = `id, user_id, service_id, status, request_date, response_date, admin_created, user_removed`

const openStatuses = `('pending','approved','remove_pending')`

// CreateRequest opens a pending access request. It fails with ErrConflict when
// the pair already has a non-terminal request and ErrNotFound when the service
// does not exist.
func (s *Store) CreateRequest(ctx context.Context, userID int64, serviceID string) (*database.AccessRequest, error) {
	var req database.AccessRequest
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM services WHERE id=$1)`, serviceID); err != nil {
			return fmt.Errorf("check service: %w", err)
		}
		if !exists {
			return fmt.Errorf("service %s: %w", serviceID, ErrNotFound)
		}
		var open bool
		if err := tx.GetContext(ctx, &open, `SELECT EXISTS(SELECT 1 FROM service_requests WHERE user_id=$1 AND service_id=$2 AND status IN `+openStatuses+`)`, userID, serviceID); err != nil {
			return fmt.Errorf("check open request: %w", err)
		}
		if open {
			return fmt.Errorf("request for service %s already open: %w", serviceID, ErrConflict)
		}
		row := tx.QueryRowxContext(ctx, `INSERT INTO service_requests (user_id, service_id, status) VALUES ($1,$2,$3) RETURNING `+requestColumns,
			userID, serviceID, database.RequestPending)
		if err := row.StructScan(&req); err != nil {
			return conflict(err, fmt.Sprintf("request for service %s", serviceID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func lockRequest(ctx context.Context, tx *sqlx.Tx, id int64) (*database.AccessRequest, error) {
	var req database.AccessRequest
	if err := tx.GetContext(ctx, &req, `SELECT `+requestColumns+` FROM service_requests WHERE id=$1 FOR UPDATE`, id); err != nil {
		return nil, notFound(err, fmt.Sprintf("request %d", id))
	}
	return &req, nil
}

// Transition reports the pair a request decision touched and the request's
// resulting state. Status is empty when the request no longer exists.
type Transition struct {
	UserID    int64
	ServiceID string
	Status    database.RequestStatus
}

// ApproveRequest applies an admin approval. A pending request becomes approved
// and its grant is created; a remove_pending request is deleted together with
// its grant.
func (s *Store) ApproveRequest(ctx context.Context, id int64) (Transition, error) {
	var result Transition
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		req, err := lockRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		result = Transition{UserID: req.UserID, ServiceID: req.ServiceID}
		switch req.Status {
		case database.RequestPending:
			if _, err := tx.ExecContext(ctx, `UPDATE service_requests SET status=$1, response_date=$2 WHERE id=$3`, database.RequestApproved, time.Now().UTC(), id); err != nil {
				return fmt.Errorf("approve request %d: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO user_services (user_id, service_id, show_info) VALUES ($1,$2,false) ON CONFLICT (user_id, service_id) DO NOTHING`, req.UserID, req.ServiceID); err != nil {
				return fmt.Errorf("grant access: %w", err)
			}
			result.Status = database.RequestApproved
		case database.RequestRemovePending:
			if _, err := tx.ExecContext(ctx, `DELETE FROM user_services WHERE user_id=$1 AND service_id=$2`, req.UserID, req.ServiceID); err != nil {
				return fmt.Errorf("revoke access: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM service_requests WHERE id=$1`, id); err != nil {
				return fmt.Errorf("delete request %d: %w", id, err)
			}
			result.Status = ""
		default:
			return fmt.Errorf("approve %s request %d: %w", req.Status, id, ErrInvalidTransition)
		}
		return nil
	})
	return result, err
}

// RejectRequest declines a pending request, which is terminal. Rejecting a
// remove_pending request keeps the grant and returns the request to approved.
func (s *Store) RejectRequest(ctx context.Context, id int64) (Transition, error) {
	var result Transition
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		req, err := lockRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		result = Transition{UserID: req.UserID, ServiceID: req.ServiceID}
		switch req.Status {
		case database.RequestPending:
			result.Status = database.RequestRejected
		case database.RequestRemovePending:
			result.Status = database.RequestApproved
		default:
			return fmt.Errorf("reject %s request %d: %w", req.Status, id, ErrInvalidTransition)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE service_requests SET status=$1, response_date=$2 WHERE id=$3`, result.Status, time.Now().UTC(), id); err != nil {
			return fmt.Errorf("reject request %d: %w", id, err)
		}
		return nil
	})
	return result, err
}

// CancelRequest is the owner's withdrawal. Pending and rejected requests are
// deleted; a remove_pending request goes back to approved. Approved requests
// cannot be cancelled.
func (s *Store) CancelRequest(ctx context.Context, userID, id int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		req, err := lockRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.UserID != userID {
			return fmt.Errorf("request %d: %w", id, ErrNotFound)
		}
		switch req.Status {
		case database.RequestPending, database.RequestRejected:
			if _, err := tx.ExecContext(ctx, `DELETE FROM service_requests WHERE id=$1`, id); err != nil {
				return fmt.Errorf("delete request %d: %w", id, err)
			}
		case database.RequestRemovePending:
			if _, err := tx.ExecContext(ctx, `UPDATE service_requests SET status=$1, user_removed=false WHERE id=$2`, database.RequestApproved, id); err != nil {
				return fmt.Errorf("restore request %d: %w", id, err)
			}
		default:
			return fmt.Errorf("cancel %s request %d: %w", req.Status, id, ErrInvalidTransition)
		}
		return nil
	})
}

// RequestRemoval asks an admin to revoke the user's approved access.
func (s *Store) RequestRemoval(ctx context.Context, userID int64, serviceID string) (*database.AccessRequest, error) {
	var req database.AccessRequest
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &req, `SELECT `+requestColumns+` FROM service_requests WHERE user_id=$1 AND service_id=$2 AND status IN `+openStatuses+` FOR UPDATE`, userID, serviceID)
		if err != nil {
			return notFound(err, "approved request for service "+serviceID)
		}
		if req.Status != database.RequestApproved {
			return fmt.Errorf("request removal from %s: %w", req.Status, ErrInvalidTransition)
		}
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE service_requests SET status=$1, request_date=$2, response_date=NULL, user_removed=true WHERE id=$3`,
			database.RequestRemovePending, now, req.ID); err != nil {
			return fmt.Errorf("request removal: %w", err)
		}
		req.Status = database.RequestRemovePending
		req.RequestDate = now
		req.ResponseDate = nil
		req.UserRemoved = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

const requestDetailSelect = `SELECT r.id, r.user_id, r.service_id, r.status, r.request_date, r.response_date, r.admin_created, r.user_removed, u.email AS user_email, s.name AS service_name
FROM service_requests r JOIN users u ON u.id=r.user_id JOIN services s ON s.id=r.service_id`

// ListRequests returns every request, newest first. A non-empty status filters.
func (s *Store) ListRequests(ctx context.Context, status database.RequestStatus) ([]database.AccessRequestDetail, error) {
	out := []database.AccessRequestDetail{}
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &out, requestDetailSelect+` ORDER BY r.request_date DESC`)
	} else {
		err = s.db.SelectContext(ctx, &out, requestDetailSelect+` WHERE r.status=$1 ORDER BY r.request_date DESC`, status)
	}
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return out, nil
}

func (s *Store) UserRequests(ctx context.Context, userID int64) ([]database.AccessRequestDetail, error) {
	out := []database.AccessRequestDetail{}
	if err := s.db.SelectContext(ctx, &out, requestDetailSelect+` WHERE r.user_id=$1 ORDER BY r.request_date DESC`, userID); err != nil {
		return nil, fmt.Errorf("list requests for user %d: %w", userID, err)
	}
	return out, nil
}

// PendingCount counts requests awaiting an admin: all of them for admins,
// otherwise only the user's own.
func (s *Store) PendingCount(ctx context.Context, userID int64, isAdmin bool) (int, error) {
	var n int
	var err error
	if isAdmin {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM service_requests WHERE status IN ('pending','remove_pending')`)
	} else {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM service_requests WHERE user_id=$1 AND status IN ('pending','remove_pending')`, userID)
	}
	if err != nil {
		return 0, fmt.Errorf("count pending requests: %w", err)
	}
	return n, nil
}
