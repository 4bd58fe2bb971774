package api

import (
	"net/http"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/Armour007/portal-backend/internal/utils"
	"github.com/gin-gonic/gin"
)

func toUserResponses(users []database.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	return out
}

// GET /admin/users
func ListUsers(c *gin.Context) {
	users, err := store().ListUsers(c.Request.Context())
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponses(users))
}

// GET /admin/users/pending
func ListPendingUsers(c *gin.Context) {
	users, err := store().PendingUsers(c.Request.Context())
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponses(users))
}

// PUT /admin/users/:userId/status
func SetUserStatus(c *gin.Context) {
	id, ok := paramInt64(c, "userId")
	if !ok {
		return
	}
	var req SetUserStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	switch req.Status {
	case database.UserPending, database.UserApproved, database.UserRejected:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be pending, approved or rejected"})
		return
	}
	if id == currentUser(c).ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot change your own status"})
		return
	}
	if err := store().SetUserStatus(c.Request.Context(), id, req.Status); err != nil {
		abortStoreError(c, err)
		return
	}
	reqLog(c).WithField("user_id", id).WithField("status", req.Status).Info("user status changed")
	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}

// POST /admin/users/bulk creates approved accounts. Existing emails are skipped.
func BulkCreateUsers(c *gin.Context) {
	var req BulkUsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	hashes := map[string]string{}
	invalid := map[string]string{}
	for _, u := range req.Users {
		email := utils.NormalizeEmail(u.Email)
		if ok, reason := utils.ValidatePassword(u.Password, email); !ok {
			invalid[email] = reason
			continue
		}
		h, err := utils.HashPassword(u.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
			return
		}
		hashes[email] = h
	}
	res, err := store().BulkCreateUsers(c.Request.Context(), hashes)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	for email, reason := range invalid {
		res.Skipped[email] = reason
	}
	c.JSON(http.StatusOK, res)
}

// DELETE /admin/users/:userId
func DeleteUser(c *gin.Context) {
	id, ok := paramInt64(c, "userId")
	if !ok {
		return
	}
	if id == currentUser(c).ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot delete your own account"})
		return
	}
	ctx := c.Request.Context()
	if err := store().DeleteUser(ctx, id); err != nil {
		abortStoreError(c, err)
		return
	}
	forgetGrant("", 0)
	c.JSON(http.StatusOK, gin.H{"message": "User deleted", "id": id})
}
