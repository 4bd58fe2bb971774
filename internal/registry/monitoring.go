package registry

import (
	"context"
	"fmt"
	"time"

	database "github.com/Armour007/portal-backend/internal"
)

const statusColumns = `id, service_id, is_active, check_time, response_time, error_message, details, retry_count`

// RecordStatus appends a probe result to the service's history.
func (s *Store) RecordStatus(ctx context.Context, st *database.ServiceStatus) error {
	row := s.db.QueryRowxContext(ctx, `INSERT INTO service_status (service_id, is_active, check_time, response_time, error_message, details, retry_count) VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		st.ServiceID, st.IsActive, st.CheckTime, st.ResponseTime, st.ErrorMessage, st.Details, st.RetryCount)
	if err := row.Scan(&st.ID); err != nil {
		return fmt.Errorf("record status for %s: %w", st.ServiceID, err)
	}
	return nil
}

func (s *Store) LatestStatus(ctx context.Context, serviceID string) (*database.ServiceStatus, error) {
	var st database.ServiceStatus
	if err := s.db.GetContext(ctx, &st, `SELECT `+statusColumns+` FROM service_status WHERE service_id=$1 ORDER BY check_time DESC LIMIT 1`, serviceID); err != nil {
		return nil, notFound(err, "status for service "+serviceID)
	}
	return &st, nil
}

// StatusHistory returns up to limit probe results, newest first.
func (s *Store) StatusHistory(ctx context.Context, serviceID string, limit int) ([]database.ServiceStatus, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	out := []database.ServiceStatus{}
	if err := s.db.SelectContext(ctx, &out, `SELECT `+statusColumns+` FROM service_status WHERE service_id=$1 ORDER BY check_time DESC LIMIT $2`, serviceID, limit); err != nil {
		return nil, fmt.Errorf("status history for %s: %w", serviceID, err)
	}
	return out, nil
}

// StartSession opens (or reopens) the access session for sessionID on a
// service. Reopening a session that belongs to another user is ErrConflict.
func (s *Store) StartSession(ctx context.Context, sessionID string, userID *int64, serviceID string) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO service_access (session_id, user_id, service_id, access_time, last_activity, is_active) VALUES ($1,$2,$3,now(),now(),true)
ON CONFLICT (session_id, service_id) DO UPDATE SET last_activity=now(), is_active=true, end_time=NULL
WHERE service_access.user_id IS NOT DISTINCT FROM EXCLUDED.user_id`, sessionID, userID, serviceID)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrConflict)
	}
	return nil
}

// Heartbeat marks the caller's session as still in use. Sessions of other
// users are reported as not found.
func (s *Store) Heartbeat(ctx context.Context, sessionID string, userID int64, serviceID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE service_access SET last_activity=now() WHERE session_id=$1 AND service_id=$2 AND user_id=$3 AND is_active`, sessionID, serviceID, userID)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return requireRow(res, "session "+sessionID)
}

func (s *Store) EndSession(ctx context.Context, sessionID string, userID int64, serviceID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE service_access SET is_active=false, end_time=now() WHERE session_id=$1 AND service_id=$2 AND user_id=$3 AND is_active`, sessionID, serviceID, userID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return requireRow(res, "session "+sessionID)
}

// ReapIdleSessions closes sessions with no activity since cutoff.
func (s *Store) ReapIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE service_access SET is_active=false, end_time=last_activity WHERE is_active AND last_activity < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap sessions: %w", err)
	}
	return res.RowsAffected()
}

// ServiceUsage returns per-service active users (active session or activity
// since activeSince) and the number of accesses started since periodStart.
func (s *Store) ServiceUsage(ctx context.Context, periodStart, activeSince time.Time) ([]database.ServiceUsage, error) {
	out := []database.ServiceUsage{}
	err := s.db.SelectContext(ctx, &out, `SELECT s.id AS service_id, s.name AS service_name,
  COUNT(DISTINCT a.user_id) FILTER (WHERE a.is_active OR a.last_activity >= $2) AS active_users,
  COUNT(a.id) FILTER (WHERE a.access_time >= $1) AS accesses
FROM services s LEFT JOIN service_access a ON a.service_id=s.id
GROUP BY s.id, s.name ORDER BY s.name`, periodStart, activeSince)
	if err != nil {
		return nil, fmt.Errorf("service usage: %w", err)
	}
	return out, nil
}

// ActiveUsers counts distinct users active on any service since activeSince.
func (s *Store) ActiveUsers(ctx context.Context, activeSince time.Time) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(DISTINCT user_id) FROM service_access WHERE user_id IS NOT NULL AND (is_active OR last_activity >= $1)`, activeSince); err != nil {
		return 0, fmt.Errorf("count active users: %w", err)
	}
	return n, nil
}
