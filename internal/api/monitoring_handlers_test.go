package api

import (
	"context"
	"net/http"
	"regexp"
	"testing"
	"time"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/Armour007/portal-backend/internal/health"
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProber struct{ probes int }

func (p *stubProber) Probe(_ context.Context, svc *database.Service) health.Result {
	p.probes++
	return health.Result{ServiceID: svc.ID, Running: true, CheckedAt: time.Now(), ResponseTime: 12, Attempts: 1}
}

type nopRecorder struct{}

func (nopRecorder) RecordStatus(context.Context, *database.ServiceStatus) error { return nil }

func monitoringRouter() *gin.Engine {
	r := gin.New()
	authed := r.Group("/", AuthMiddleware())
	authed.GET("/services/:id/status", GetServiceStatus)
	authed.POST("/monitoring/access/start", StartAccess)
	authed.POST("/monitoring/access/heartbeat", AccessHeartbeat)
	authed.POST("/monitoring/access/end", EndAccess)
	authed.GET("/monitoring/services/stats", RequireAdmin(), ServiceStatsHandler)
	return r
}

func TestGetServiceStatus_CachesProbe(t *testing.T) {
	mock := setupTest(t)
	prober := &stubProber{}
	SetChecker(health.NewChecker(prober, health.NewStatusCache(time.Minute), nopRecorder{}))
	tok := loginToken(t, "admin@example.com", 1)

	for i := 0; i < 2; i++ {
		expectUser(mock, 1, "admin@example.com", "h", true, database.UserApproved)
		expectService(mock, "ab12cd34", "10.0.0.5", 8080, false)
		w := doJSON(monitoringRouter(), http.MethodGet, "/services/ab12cd34/status", tok, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"status":"running"`)
	}
	assert.Equal(t, 1, prober.probes)

	expectUser(mock, 1, "admin@example.com", "h", true, database.UserApproved)
	expectService(mock, "ab12cd34", "10.0.0.5", 8080, false)
	w := doJSON(monitoringRouter(), http.MethodGet, "/services/ab12cd34/status?refresh=true", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, prober.probes)
}

func TestStartAccess_RequiresGrant(t *testing.T) {
	mock := setupTest(t)
	expectUser(mock, 5, "erin@example.com", "h", false, database.UserApproved)
	expectService(mock, "ab12cd34", "10.0.0.5", 8080, false)
	mock.ExpectQuery(hasGrantSQL).WithArgs(int64(5), "ab12cd34").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	w := doJSON(monitoringRouter(), http.MethodPost, "/monitoring/access/start", loginToken(t, "erin@example.com", 5), gin.H{"service_id": "ab12cd34"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStartAccess_OpensSession(t *testing.T) {
	mock := setupTest(t)
	expectUser(mock, 5, "erin@example.com", "h", false, database.UserApproved)
	expectService(mock, "ab12cd34", "10.0.0.5", 8080, true)
	mock.ExpectExec(`INSERT INTO service_access`).WithArgs("sess-1", int64(5), "ab12cd34").WillReturnResult(sqlmock.NewResult(1, 1))

	w := doJSON(monitoringRouter(), http.MethodPost, "/monitoring/access/start", loginToken(t, "erin@example.com", 5), gin.H{"service_id": "ab12cd34", "session_id": "sess-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHeartbeat_UnknownSessionNotFound(t *testing.T) {
	mock := setupTest(t)
	expectUser(mock, 5, "erin@example.com", "h", false, database.UserApproved)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE service_access SET last_activity=now()`)).WillReturnResult(sqlmock.NewResult(0, 0))

	w := doJSON(monitoringRouter(), http.MethodPost, "/monitoring/access/heartbeat", loginToken(t, "erin@example.com", 5), gin.H{"service_id": "ab12cd34", "session_id": "gone"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionCalls_ScopedToCaller(t *testing.T) {
	mock := setupTest(t)
	tok := loginToken(t, "erin@example.com", 5)
	body := gin.H{"service_id": "ab12cd34", "session_id": "someone-elses"}

	// the session exists but belongs to another user, so no row matches
	expectUser(mock, 5, "erin@example.com", "h", false, database.UserApproved)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE service_access SET last_activity=now() WHERE session_id=$1 AND service_id=$2 AND user_id=$3`)).
		WithArgs("someone-elses", "ab12cd34", int64(5)).WillReturnResult(sqlmock.NewResult(0, 0))
	w := doJSON(monitoringRouter(), http.MethodPost, "/monitoring/access/heartbeat", tok, body)
	assert.Equal(t, http.StatusNotFound, w.Code)

	expectUser(mock, 5, "erin@example.com", "h", false, database.UserApproved)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE service_access SET is_active=false, end_time=now() WHERE session_id=$1 AND service_id=$2 AND user_id=$3`)).
		WithArgs("someone-elses", "ab12cd34", int64(5)).WillReturnResult(sqlmock.NewResult(0, 0))
	w = doJSON(monitoringRouter(), http.MethodPost, "/monitoring/access/end", tok, body)
	assert.Equal(t, http.StatusNotFound, w.Code)

	expectUser(mock, 5, "erin@example.com", "h", false, database.UserApproved)
	expectService(mock, "ab12cd34", "10.0.0.5", 8080, true)
	mock.ExpectExec(`INSERT INTO service_access`).WithArgs("someone-elses", int64(5), "ab12cd34").WillReturnResult(sqlmock.NewResult(0, 0))
	w = doJSON(monitoringRouter(), http.MethodPost, "/monitoring/access/start", tok, body)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestServiceStats(t *testing.T) {
	mock := setupTest(t)
	tok := asAdmin(t, mock)
	mock.ExpectQuery(`FROM services s LEFT JOIN service_access a`).
		WillReturnRows(sqlmock.NewRows([]string{"service_id", "service_name", "active_users", "accesses"}).AddRow("ab12cd34", "Grafana", 2, 10))
	mock.ExpectQuery(`SELECT COUNT\(DISTINCT user_id\) FROM service_access`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	w := doJSON(monitoringRouter(), http.MethodGet, "/monitoring/services/stats?period=1h", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"active_users":2`)
	assert.Contains(t, w.Body.String(), `"status":"unknown"`)
	require.NoError(t, mock.ExpectationsWereMet())
}
