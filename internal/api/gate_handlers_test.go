package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/Armour007/portal-backend/internal/utils"
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authCheck(originalURI, token string, cookie bool) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET("/auth", AuthCheck)
	req := httptest.NewRequest(http.MethodGet, "/auth", nil)
	req.Header.Set("X-Original-URI", originalURI)
	if token != "" {
		if cookie {
			req.AddCookie(&http.Cookie{Name: "access_token", Value: token})
		} else {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthCheck_StaticAssetIsAnonymous(t *testing.T) {
	mock := setupTest(t)
	w := authCheck("/api/ab12cd34/assets/app.css", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-User"))
	assert.Empty(t, w.Header().Get("X-Service-Token"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthCheck_NoTokenIsUnauthorized(t *testing.T) {
	setupTest(t)
	w := authCheck("/api/ab12cd34/", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthCheck_PendingUserForbidden(t *testing.T) {
	mock := setupTest(t)
	expectUser(mock, 5, "erin@example.com", "h", false, database.UserPending)
	w := authCheck("/api/ab12cd34/", loginToken(t, "erin@example.com", 5), false)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "not yet approved")
}

func TestAuthCheck_GrantedUserGetsServiceToken(t *testing.T) {
	mock := setupTest(t)
	expectUser(mock, 5, "erin@example.com", "h", false, database.UserApproved)
	expectService(mock, "ab12cd34", "10.0.0.5", 8080, false)
	mock.ExpectQuery(hasGrantSQL).WithArgs(int64(5), "ab12cd34").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	w := authCheck("/api/ab12cd34/dashboard", loginToken(t, "erin@example.com", 5), true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "erin@example.com", w.Header().Get("X-User"))
	assert.Equal(t, "5", w.Header().Get("X-User-Id"))

	claims, err := tokens.Verify(w.Header().Get("X-Service-Token"))
	require.NoError(t, err)
	assert.Equal(t, utils.TokenTypeServiceAccess, claims.Type)
	assert.Equal(t, "ab12cd34", claims.ServiceID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthCheck_NoGrantForbidden(t *testing.T) {
	mock := setupTest(t)
	expectUser(mock, 5, "erin@example.com", "h", false, database.UserApproved)
	expectService(mock, "ab12cd34", "10.0.0.5", 8080, false)
	mock.ExpectQuery(hasGrantSQL).WithArgs(int64(5), "ab12cd34").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	w := authCheck("/api/ab12cd34/", loginToken(t, "erin@example.com", 5), false)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthCheck_UnknownServiceNotFound(t *testing.T) {
	mock := setupTest(t)
	expectUser(mock, 1, "admin@example.com", "h", true, database.UserApproved)
	mock.ExpectQuery(serviceByIDSQL).WithArgs("nope").WillReturnRows(sqlmock.NewRows(serviceCols))

	w := authCheck("/api/nope/", loginToken(t, "admin@example.com", 1), false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
