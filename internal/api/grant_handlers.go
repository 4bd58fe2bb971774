package api

import (
	"errors"
	"net/http"

	"github.com/Armour007/portal-backend/internal/registry"
	"github.com/Armour007/portal-backend/internal/utils"
	"github.com/gin-gonic/gin"
)

// GET /services/:id/users
func ListServiceUsers(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := store().ServiceByID(ctx, id); err != nil {
		abortStoreError(c, err)
		return
	}
	users, err := store().UsersForService(ctx, id)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"service_id": id, "users": users})
}

// POST /services/:id/users grants access to each listed email. Unknown emails
// are reported, not fatal.
func AddServiceUsers(c *gin.Context) {
	var req AddServiceUsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := store().ServiceByID(ctx, id); err != nil {
		abortStoreError(c, err)
		return
	}
	added := []string{}
	failed := map[string]string{}
	for _, raw := range req.Emails {
		email := utils.NormalizeEmail(raw)
		user, err := store().UserByEmail(ctx, email)
		if errors.Is(err, registry.ErrNotFound) {
			failed[email] = "user not found"
			continue
		}
		if err != nil {
			abortStoreError(c, err)
			return
		}
		if err := store().GrantAccess(ctx, user.ID, id, req.ShowInfo); err != nil {
			reqLog(c).WithError(err).WithField("email", email).Warn("grant failed")
			failed[email] = "grant failed"
			continue
		}
		grantsChanged(ctx, id, user.ID)
		added = append(added, email)
	}
	c.JSON(http.StatusOK, gin.H{"service_id": id, "added": added, "failed": failed})
}

// DELETE /services/:id/users/:userId
func RemoveServiceUser(c *gin.Context) {
	userID, ok := paramInt64(c, "userId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := store().RevokeAccess(ctx, userID, id); err != nil {
		abortStoreError(c, err)
		return
	}
	grantsChanged(ctx, id, userID)
	c.JSON(http.StatusOK, gin.H{"message": "Access revoked", "service_id": id, "user_id": userID})
}

// PUT /services/:id/users/:userId toggles whether the user sees the upstream address.
func SetServiceUserVisibility(c *gin.Context) {
	userID, ok := paramInt64(c, "userId")
	if !ok {
		return
	}
	var req VisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	id := c.Param("id")
	if err := store().SetGrantVisibility(c.Request.Context(), userID, id, req.ShowInfo); err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"service_id": id, "user_id": userID, "show_info": req.ShowInfo})
}
