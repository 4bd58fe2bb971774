package api

import (
	"net/http"
	"strconv"

	"github.com/Armour007/portal-backend/internal/gate"
	"github.com/gin-gonic/gin"
)

// AuthCheck is the target of Nginx auth_request. Only the status code matters
// to Nginx; the identity headers are picked up with auth_request_set.
func AuthCheck(c *gin.Context) {
	d := portalGate().Decide(c.Request.Context(), c.Request)
	RecordGateDecision(d)

	entry := reqLog(c).WithField("uri", gate.OriginalURI(c.Request)).WithField("reason", d.Reason)
	if !d.Allow {
		entry.WithField("status", d.Status).Debug("gate denied")
		c.JSON(d.Status, gin.H{"error": d.Message})
		return
	}
	entry.Debug("gate allowed")
	if !d.Anonymous {
		c.Header("X-User", d.Subject)
		c.Header("X-User-Id", strconv.FormatInt(d.UserID, 10))
	}
	if d.DownstreamToken != "" {
		c.Header("X-Service-Token", d.DownstreamToken)
	}
	c.Status(http.StatusOK)
}
