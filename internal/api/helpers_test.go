package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/Armour007/portal-backend/internal/utils"
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

const (
	userByEmailSQL = `SELECT id, email, hashed_password, is_admin, status, registration_date, approval_date FROM users WHERE email=\$1`
	serviceByIDSQL = `SELECT id, name, protocol, host, port, base_path, description, show_info, is_public, is_ip, created_at FROM services WHERE id=\$1`
	hasGrantSQL    = `SELECT EXISTS\(SELECT 1 FROM user_services WHERE user_id=\$1 AND service_id=\$2\)`
)

var userCols = []string{"id", "email", "hashed_password", "is_admin", "status", "registration_date", "approval_date"}
var serviceCols = []string{"id", "name", "protocol", "host", "port", "base_path", "description", "show_info", "is_public", "is_ip", "created_at"}

// setupTest installs a sqlmock pool and a token service and resets the
// package-level collaborators.
func setupTest(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	database.DB = sqlx.NewDb(db, "sqlmock")

	ts, err := utils.NewTokenService("test-secret")
	require.NoError(t, err)
	SetTokens(ts)
	SetSynthesizer(nil)
	SetChecker(nil)
	SetGrantCache(nil)
	SetBus(nil)
	settings.AllowedDomain = "example.com"
	settings.CookieName = "access_token"
	settings.Gate.CookieName = "access_token"
	return mock
}

func expectUser(mock sqlmock.Sqlmock, id int64, email, hash string, admin bool, status database.UserStatus) {
	mock.ExpectQuery(userByEmailSQL).WithArgs(email).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(id, email, hash, admin, string(status), time.Now(), nil))
}

func expectService(mock sqlmock.Sqlmock, id, host string, port int, public bool) {
	mock.ExpectQuery(serviceByIDSQL).WithArgs(id).
		WillReturnRows(sqlmock.NewRows(serviceCols).AddRow(id, "svc-"+id, "http", host, int64(port), "/", nil, true, public, true, time.Now()))
}

func loginToken(t *testing.T, email string, userID int64) string {
	t.Helper()
	tok, err := tokens.Issue(email, utils.Claims{UserID: userID}, time.Hour)
	require.NoError(t, err)
	return tok
}

func doJSON(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
