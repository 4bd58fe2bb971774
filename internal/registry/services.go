package registry

import (
	"context"
	"fmt"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/jmoiron/sqlx"
)

const serviceColumns = `id, name, protocol, host, port, base_path, description, show_info, is_public, is_ip, created_at`

// CreateService inserts svc, assigning an id when empty.
func (s *Store) CreateService(ctx context.Context, svc *database.Service) error {
	if svc.ID == "" {
		svc.ID = NewServiceID()
	}
	if svc.BasePath == "" {
		svc.BasePath = "/"
	}
	row := s.db.QueryRowxContext(ctx, `INSERT INTO services (id, name, protocol, host, port, base_path, description, show_info, is_public, is_ip) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING created_at`,
		svc.ID, svc.Name, svc.Protocol, svc.Host, svc.Port, svc.BasePath, svc.Description, svc.ShowInfo, svc.IsPublic, svc.IsIP)
	if err := row.Scan(&svc.CreatedAt); err != nil {
		return fmt.Errorf("insert service: %w", err)
	}
	return nil
}

func (s *Store) ServiceByID(ctx context.Context, id string) (*database.Service, error) {
	var svc database.Service
	if err := s.db.GetContext(ctx, &svc, `SELECT `+serviceColumns+` FROM services WHERE id=$1`, id); err != nil {
		return nil, notFound(err, "service "+id)
	}
	return &svc, nil
}

func (s *Store) ListServices(ctx context.Context) ([]database.Service, error) {
	out := []database.Service{}
	if err := s.db.SelectContext(ctx, &out, `SELECT `+serviceColumns+` FROM services ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return out, nil
}

// ServicesForUser lists the services a user holds a grant on. The grant's
// show_info overrides the service default.
func (s *Store) ServicesForUser(ctx context.Context, userID int64) ([]database.Service, error) {
	out := []database.Service{}
	err := s.db.SelectContext(ctx, &out, `SELECT s.id, s.name, s.protocol, s.host, s.port, s.base_path, s.description, us.show_info, s.is_public, s.is_ip, s.created_at
FROM services s JOIN user_services us ON us.service_id=s.id WHERE us.user_id=$1 ORDER BY s.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list services for user %d: %w", userID, err)
	}
	return out, nil
}

// UpdateService rewrites every mutable column of svc.
func (s *Store) UpdateService(ctx context.Context, svc *database.Service) error {
	res, err := s.db.ExecContext(ctx, `UPDATE services SET name=$1, protocol=$2, host=$3, port=$4, base_path=$5, description=$6, show_info=$7, is_public=$8, is_ip=$9 WHERE id=$10`,
		svc.Name, svc.Protocol, svc.Host, svc.Port, svc.BasePath, svc.Description, svc.ShowInfo, svc.IsPublic, svc.IsIP, svc.ID)
	if err != nil {
		return fmt.Errorf("update service %s: %w", svc.ID, err)
	}
	return requireRow(res, "service "+svc.ID)
}

// DeleteService removes the service and every row referencing it in one
// transaction.
func (s *Store) DeleteService(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, q := range []string{
			`DELETE FROM service_requests WHERE service_id=$1`,
			`DELETE FROM service_status WHERE service_id=$1`,
			`DELETE FROM service_access WHERE service_id=$1`,
			`DELETE FROM user_services WHERE service_id=$1`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("delete service %s dependents: %w", id, err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM services WHERE id=$1`, id)
		if err != nil {
			return fmt.Errorf("delete service %s: %w", id, err)
		}
		return requireRow(res, "service "+id)
	})
}
