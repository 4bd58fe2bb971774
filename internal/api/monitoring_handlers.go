package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// POST /monitoring/access/start
func StartAccess(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if _, ok := loadVisibleService(c, req.ServiceID); !ok {
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	uid := currentUser(c).ID
	if err := store().StartSession(c.Request.Context(), req.SessionID, &uid, req.ServiceID); err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": req.SessionID, "service_id": req.ServiceID})
}

// POST /monitoring/access/heartbeat
func AccessHeartbeat(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and service_id required"})
		return
	}
	if err := store().Heartbeat(c.Request.Context(), req.SessionID, currentUser(c).ID, req.ServiceID); err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": req.SessionID, "active": true})
}

// POST /monitoring/access/end
func EndAccess(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and service_id required"})
		return
	}
	if err := store().EndSession(c.Request.Context(), req.SessionID, currentUser(c).ID, req.ServiceID); err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": req.SessionID, "active": false})
}

// GET /monitoring/services/stats?period=24h
func ServiceStatsHandler(c *gin.Context) {
	period := 24 * time.Hour
	if v := c.Query("period"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period"})
			return
		}
		period = d
	}
	ctx := c.Request.Context()
	now := time.Now().UTC()
	activeSince := now.Add(-settings.SessionIdle)
	usage, err := store().ServiceUsage(ctx, now.Add(-period), activeSince)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	active, err := store().ActiveUsers(ctx, activeSince)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	rows := make([]ServiceStats, 0, len(usage))
	for _, u := range usage {
		st := "unknown"
		if checker != nil {
			if r, ok := checker.Cached(ctx, u.ServiceID); ok {
				st = r.Status()
			}
		}
		rows = append(rows, ServiceStats{ServiceID: u.ServiceID, ServiceName: u.ServiceName, ActiveUsers: u.ActiveUsers, Accesses: u.Accesses, Status: st})
	}
	c.JSON(http.StatusOK, gin.H{"period": period.String(), "active_users": active, "services": rows})
}

// GET /services/:id/status?refresh=true
func GetServiceStatus(c *gin.Context) {
	svc, ok := loadVisibleService(c, c.Param("id"))
	if !ok {
		return
	}
	if checker == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "health checks disabled"})
		return
	}
	ctx := c.Request.Context()
	if refresh, _ := strconv.ParseBool(c.Query("refresh")); refresh {
		checker.Expire(ctx, svc.ID)
	}
	r, hit := checker.Status(ctx, svc)
	if hit {
		RecordCacheHit("status")
	} else {
		RecordCacheMiss("status")
	}
	c.JSON(http.StatusOK, gin.H{"service_id": svc.ID, "status": r.Status(), "result": r, "cached": hit})
}

// GET /services/:id/status/history?limit=50
func GetServiceStatusHistory(c *gin.Context) {
	svc, ok := loadVisibleService(c, c.Param("id"))
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := store().StatusHistory(c.Request.Context(), svc.ID, limit)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"service_id": svc.ID, "history": rows})
}
