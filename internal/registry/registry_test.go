package registry

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	database "github.com/Armour007/portal-backend/internal"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func requestRow(id, userID int64, serviceID string, status database.RequestStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "service_id", "status", "request_date", "response_date", "admin_created", "user_removed"}).
		AddRow(id, userID, serviceID, string(status), time.Now(), nil, false, false)
}

var (
	lockReq     = regexp.QuoteMeta(`FROM service_requests WHERE id=$1 FOR UPDATE`)
	updateReq   = regexp.QuoteMeta(`UPDATE service_requests SET status=$1, response_date=$2 WHERE id=$3`)
	insertGrant = regexp.QuoteMeta(`INSERT INTO user_services (user_id, service_id, show_info)`)
	deleteGrant = regexp.QuoteMeta(`DELETE FROM user_services WHERE user_id=$1 AND service_id=$2`)
)

func TestApproveRequest_PendingMaterializesGrant(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockReq).WithArgs(int64(5)).WillReturnRows(requestRow(5, 7, "ab12cd34", database.RequestPending))
	mock.ExpectExec(updateReq).WithArgs(database.RequestApproved, sqlmock.AnyArg(), int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertGrant).WithArgs(int64(7), "ab12cd34").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	st, err := s.ApproveRequest(context.Background(), 5)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if st.Status != database.RequestApproved || st.UserID != 7 || st.ServiceID != "ab12cd34" {
		t.Fatalf("unexpected transition %+v", st)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApproveRequest_RemovePendingDropsGrantAndRequest(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockReq).WithArgs(int64(9)).WillReturnRows(requestRow(9, 7, "ab12cd34", database.RequestRemovePending))
	mock.ExpectExec(deleteGrant).WithArgs(int64(7), "ab12cd34").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM service_requests WHERE id=$1`)).WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	st, err := s.ApproveRequest(context.Background(), 9)
	if err != nil {
		t.Fatalf("approve removal: %v", err)
	}
	if st.Status != "" {
		t.Fatalf("expected request gone, got %q", st.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApproveRequest_GrantFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockReq).WithArgs(int64(5)).WillReturnRows(requestRow(5, 7, "ab12cd34", database.RequestPending))
	mock.ExpectExec(updateReq).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertGrant).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if _, err := s.ApproveRequest(context.Background(), 5); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApproveRequest_UnknownIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockReq).WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := s.ApproveRequest(context.Background(), 1)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRejectAndCancel_InvalidTransitions(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockReq).WithArgs(int64(3)).WillReturnRows(requestRow(3, 7, "svc", database.RequestApproved))
	mock.ExpectRollback()
	if _, err := s.RejectRequest(context.Background(), 3); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reject approved: expected ErrInvalidTransition, got %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(lockReq).WithArgs(int64(3)).WillReturnRows(requestRow(3, 7, "svc", database.RequestApproved))
	mock.ExpectRollback()
	if err := s.CancelRequest(context.Background(), 7, 3); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel approved: expected ErrInvalidTransition, got %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(lockReq).WithArgs(int64(4)).WillReturnRows(requestRow(4, 8, "svc", database.RequestPending))
	mock.ExpectRollback()
	if err := s.CancelRequest(context.Background(), 7, 4); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancel other user's request: expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRejectRequest_PendingIsTerminal(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockReq).WithArgs(int64(3)).WillReturnRows(requestRow(3, 7, "svc", database.RequestPending))
	mock.ExpectExec(updateReq).WithArgs(database.RequestRejected, sqlmock.AnyArg(), int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	st, err := s.RejectRequest(context.Background(), 3)
	if err != nil || st.Status != database.RequestRejected {
		t.Fatalf("expected rejected, got %q err=%v", st.Status, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateRequest_ConflictWhenOpen(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM services WHERE id=$1)`)).WithArgs("svc").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM service_requests WHERE user_id=$1 AND service_id=$2`)).WithArgs(int64(7), "svc").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := s.CreateRequest(context.Background(), 7, "svc")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateRequest_UnknownService(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM services WHERE id=$1)`)).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	if _, err := s.CreateRequest(context.Background(), 7, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateRequest_RacingInsertIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM services WHERE id=$1)`)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM service_requests`)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO service_requests (user_id, service_id, status)`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "service_requests_open_pair"})
	mock.ExpectRollback()

	_, err := s.CreateRequest(context.Background(), 7, "svc")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateRequest_Inserts(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM services WHERE id=$1)`)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM service_requests`)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO service_requests (user_id, service_id, status)`)).WithArgs(int64(7), "svc", database.RequestPending).
		WillReturnRows(requestRow(11, 7, "svc", database.RequestPending))
	mock.ExpectCommit()

	req, err := s.CreateRequest(context.Background(), 7, "svc")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.ID != 11 || req.Status != database.RequestPending {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestRequestRemoval_FromApproved(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM service_requests WHERE user_id=$1 AND service_id=$2 AND status IN`)).WithArgs(int64(7), "svc").
		WillReturnRows(requestRow(3, 7, "svc", database.RequestApproved))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE service_requests SET status=$1, request_date=$2, response_date=NULL, user_removed=true WHERE id=$3`)).
		WithArgs(database.RequestRemovePending, sqlmock.AnyArg(), int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	req, err := s.RequestRemoval(context.Background(), 7, "svc")
	if err != nil {
		t.Fatalf("request removal: %v", err)
	}
	if req.Status != database.RequestRemovePending || !req.UserRemoved {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestDeleteService_CascadesInOneTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	for _, table := range []string{"service_requests", "service_status", "service_access", "user_services"} {
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM `+table+` WHERE service_id=$1`)).WithArgs("ab12cd34").WillReturnResult(sqlmock.NewResult(0, 2))
	}
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM services WHERE id=$1`)).WithArgs("ab12cd34").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.DeleteService(context.Background(), "ab12cd34"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteService_PartialFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM service_requests`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM service_status`)).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := s.DeleteService(context.Background(), "ab12cd34"); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteService_Unknown(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	for i := 0; i < 4; i++ {
		mock.ExpectExec(`DELETE FROM`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM services WHERE id=$1`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := s.DeleteService(context.Background(), "zzzzzzzz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGrantAccess_RecordsAdminRequest(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM service_requests WHERE user_id=$1 AND service_id=$2`)).WithArgs(int64(7), "svc").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO service_requests (user_id, service_id, status, response_date, admin_created)`)).
		WithArgs(int64(7), "svc", database.RequestApproved, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insertGrant).WithArgs(int64(7), "svc", true).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.GrantAccess(context.Background(), 7, "svc", true); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRevokeAccess_RemovesGrantAndRequests(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(deleteGrant).WithArgs(int64(7), "svc").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM service_requests WHERE user_id=$1 AND service_id=$2 AND status IN`)).WithArgs(int64(7), "svc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.RevokeAccess(context.Background(), 7, "svc"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateUser_DuplicateIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM users WHERE email=$1)`)).WithArgs("a@gmail.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if _, err := s.CreateUser(context.Background(), "a@gmail.com", "h", false, database.UserPending); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestNewServiceID(t *testing.T) {
	id := NewServiceID()
	if len(id) != 8 {
		t.Fatalf("expected 8 chars, got %q", id)
	}
	if id == NewServiceID() {
		t.Fatalf("expected distinct ids")
	}
}

func TestBulkCreateUsers_SkipsExisting(t *testing.T) {
	s, mock := newMockStore(t)
	insertUser := regexp.QuoteMeta(`INSERT INTO users (email, hashed_password, is_admin, status, approval_date)`)
	mock.ExpectBegin()
	mock.ExpectExec(insertUser).WithArgs("new@gmail.com", "h1", "approved", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := s.BulkCreateUsers(context.Background(), map[string]string{"new@gmail.com": "h1"})
	if err != nil {
		t.Fatalf("bulk create: %v", err)
	}
	if len(res.Created) != 1 || res.Created[0] != "new@gmail.com" {
		t.Fatalf("unexpected created list %v", res.Created)
	}

	mock.ExpectBegin()
	mock.ExpectExec(insertUser).WithArgs("old@gmail.com", "h2", "approved", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	res, err = s.BulkCreateUsers(context.Background(), map[string]string{"old@gmail.com": "h2"})
	if err != nil {
		t.Fatalf("bulk create: %v", err)
	}
	if res.Skipped["old@gmail.com"] != "already exists" || len(res.Created) != 0 {
		t.Fatalf("expected old@gmail.com to be skipped, got %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteUser_DetachesSessions(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM service_requests WHERE user_id=$1`)).WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM user_services WHERE user_id=$1`)).WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE service_access SET user_id=NULL WHERE user_id=$1`)).WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM users WHERE id=$1`)).WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.DeleteUser(context.Background(), 9); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
