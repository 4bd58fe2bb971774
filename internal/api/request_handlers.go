package api

import (
	"net/http"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/gin-gonic/gin"
)

// POST /requests
func CreateAccessRequest(c *gin.Context) {
	var body AccessRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	user := currentUser(c)
	req, err := store().CreateRequest(c.Request.Context(), user.ID, body.ServiceID)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	reqLog(c).WithField("user_id", user.ID).WithField("service_id", body.ServiceID).Info("access requested")
	c.JSON(http.StatusCreated, req)
}

// GET /requests/mine
func ListMyRequests(c *gin.Context) {
	reqs, err := store().UserRequests(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

// GET /requests?status=pending
func ListAccessRequests(c *gin.Context) {
	status := database.RequestStatus(c.Query("status"))
	switch status {
	case "", database.RequestPending, database.RequestApproved, database.RequestRejected, database.RequestRemovePending:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status filter"})
		return
	}
	reqs, err := store().ListRequests(c.Request.Context(), status)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

// POST /requests/:requestId/approve
func ApproveAccessRequest(c *gin.Context) {
	id, ok := paramInt64(c, "requestId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	tr, err := store().ApproveRequest(ctx, id)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	grantsChanged(ctx, tr.ServiceID, tr.UserID)
	reqLog(c).WithField("request_id", id).WithField("result", tr.Status).Info("access request approved")
	c.JSON(http.StatusOK, gin.H{"id": id, "status": tr.Status, "user_id": tr.UserID, "service_id": tr.ServiceID})
}

// POST /requests/:requestId/reject
func RejectAccessRequest(c *gin.Context) {
	id, ok := paramInt64(c, "requestId")
	if !ok {
		return
	}
	tr, err := store().RejectRequest(c.Request.Context(), id)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": tr.Status, "user_id": tr.UserID, "service_id": tr.ServiceID})
}

// DELETE /requests/:requestId withdraws the caller's own request.
func CancelAccessRequest(c *gin.Context) {
	id, ok := paramInt64(c, "requestId")
	if !ok {
		return
	}
	if err := store().CancelRequest(c.Request.Context(), currentUser(c).ID, id); err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Request cancelled", "id": id})
}

// POST /services/:id/removal asks for the caller's access to be revoked.
func RequestAccessRemoval(c *gin.Context) {
	req, err := store().RequestRemoval(c.Request.Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// GET /requests/pending/count counts every pending request for admins and the
// caller's own otherwise.
func PendingRequestCount(c *gin.Context) {
	user := currentUser(c)
	n, err := store().PendingCount(c.Request.Context(), user.ID, user.IsAdmin)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}
