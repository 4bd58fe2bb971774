package api

import (
	"errors"
	"net/http"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/Armour007/portal-backend/internal/registry"
	"github.com/Armour007/portal-backend/internal/utils"
	"github.com/gin-gonic/gin"
)

// RegisterUser handles self sign-up. Accounts start pending until an admin approves them.
func RegisterUser(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	email := utils.NormalizeEmail(req.Email)
	if !utils.EmailInDomain(email, settings.AllowedDomain) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only @" + settings.AllowedDomain + " addresses may register"})
		return
	}
	if ok, reason := utils.ValidatePassword(req.Password, email); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": reason})
		return
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}
	user, err := store().CreateUser(c.Request.Context(), email, hashedPassword, false, database.UserPending)
	if errors.Is(err, registry.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "Email address already registered"})
		return
	}
	if err != nil {
		abortStoreError(c, err)
		return
	}
	reqLog(c).WithField("email", email).Info("user registered, awaiting approval")
	c.JSON(http.StatusCreated, gin.H{"message": "Registration received. An administrator must approve the account.", "user": toUserResponse(user)})
}

// LoginUser exchanges credentials for a portal token.
func LoginUser(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	email := utils.NormalizeEmail(req.Email)
	user, err := store().UserByEmail(c.Request.Context(), email)
	if errors.Is(err, registry.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		abortStoreError(c, err)
		return
	}
	if !utils.CheckPasswordHash(req.Password, user.HashedPassword) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Incorrect password"})
		return
	}
	if !user.IsAdmin {
		switch user.Status {
		case database.UserPending:
			c.JSON(http.StatusForbidden, gin.H{"error": "Account is pending approval", "status": user.Status})
			return
		case database.UserRejected:
			c.JSON(http.StatusForbidden, gin.H{"error": "Account has been rejected", "status": user.Status})
			return
		}
	}

	token, err := tokens.Issue(user.Email, utils.Claims{UserID: user.ID}, settings.LoginTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	setSessionCookie(c, token)
	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(settings.LoginTTL.Seconds()),
		Email:       user.Email,
		IsAdmin:     user.IsAdmin,
	})
}

// setSessionCookie lets browsers reach proxied services, whose requests
// carry no Authorization header.
func setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(settings.CookieName, token, int(settings.LoginTTL.Seconds()), "/", "", settings.SecureCookie, true)
}

// LogoutUser clears the session cookie. Tokens stay valid until they expire.
func LogoutUser(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(settings.CookieName, "", -1, "/", "", settings.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// VerifyToken reports who the presented token belongs to. Runs behind AuthMiddleware.
func VerifyToken(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "user": toUserResponse(user), "is_admin": user.IsAdmin})
}

// GetMe returns the authenticated user.
func GetMe(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}
