package api

import (
	"time"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/Armour007/portal-backend/internal/health"
	"github.com/Armour007/portal-backend/internal/utils"
)

// RegisterRequest defines the expected JSON body for user registration
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the portal token. The same token is also set as a cookie.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Email       string `json:"email"`
	IsAdmin     bool   `json:"is_admin"`
}

// UserResponse hides the password hash.
type UserResponse struct {
	ID               int64               `json:"id"`
	Email            string              `json:"email"`
	IsAdmin          bool                `json:"is_admin"`
	Status           database.UserStatus `json:"status"`
	RegistrationDate time.Time           `json:"registration_date"`
	ApprovalDate     *time.Time          `json:"approval_date,omitempty"`
}

func toUserResponse(u *database.User) UserResponse {
	return UserResponse{
		ID:               u.ID,
		Email:            u.Email,
		IsAdmin:          u.IsAdmin,
		Status:           u.Status,
		RegistrationDate: u.RegistrationDate,
		ApprovalDate:     u.ApprovalDate,
	}
}

type SetUserStatusRequest struct {
	Status database.UserStatus `json:"status" binding:"required"`
}

type BulkUserEntry struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type BulkUsersRequest struct {
	Users []BulkUserEntry `json:"users" binding:"required,min=1"`
}

// CreateServiceRequest accepts a free-form upstream URL.
type CreateServiceRequest struct {
	Name        string  `json:"name" binding:"required"`
	URL         string  `json:"url" binding:"required"`
	Description *string `json:"description"`
	ShowInfo    *bool   `json:"show_info"`
	IsPublic    bool    `json:"is_public"`
}

// UpdateServiceRequest changes only the fields that are present.
type UpdateServiceRequest struct {
	Name        *string `json:"name"`
	URL         *string `json:"url"`
	Description *string `json:"description"`
	ShowInfo    *bool   `json:"show_info"`
	IsPublic    *bool   `json:"is_public"`
}

// ServiceResponse is the outward view of a service. URL and NginxURL are
// computed; the upstream address is omitted when it is hidden from the caller.
type ServiceResponse struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  *string        `json:"description,omitempty"`
	URL          string         `json:"url,omitempty"`
	Protocol     string         `json:"protocol,omitempty"`
	Host         string         `json:"host,omitempty"`
	Port         *int           `json:"port,omitempty"`
	BasePath     string         `json:"base_path,omitempty"`
	IsIP         bool           `json:"is_ip"`
	NginxURL     string         `json:"nginx_url"`
	ShowInfo     bool           `json:"show_info"`
	IsPublic     bool           `json:"is_public"`
	CreatedAt    time.Time      `json:"created_at"`
	Status       *health.Result `json:"status,omitempty"`
	NginxUpdated *bool          `json:"nginx_updated,omitempty"`
	NginxError   string         `json:"nginx_error,omitempty"`
}

// NginxPath is the portal-relative prefix a service is proxied under.
func NginxPath(id string) string { return "/api/" + id + "/" }

func toServiceResponse(svc *database.Service, reveal bool) ServiceResponse {
	out := ServiceResponse{
		ID:          svc.ID,
		Name:        svc.Name,
		Description: svc.Description,
		IsIP:        svc.IsIP,
		NginxURL:    NginxPath(svc.ID),
		ShowInfo:    svc.ShowInfo,
		IsPublic:    svc.IsPublic,
		CreatedAt:   svc.CreatedAt,
	}
	if reveal {
		out.URL = utils.RenderServiceURL(svc.Protocol, svc.Host, svc.Port, svc.BasePath)
		out.Protocol = svc.Protocol
		out.Host = svc.Host
		out.Port = svc.Port
		out.BasePath = svc.BasePath
	}
	return out
}

type AccessRequestBody struct {
	ServiceID string `json:"service_id" binding:"required"`
}

type AddServiceUsersRequest struct {
	Emails   []string `json:"emails" binding:"required,min=1"`
	ShowInfo bool     `json:"show_info"`
}

type VisibilityRequest struct {
	ShowInfo bool `json:"show_info"`
}

// SessionRequest is the body of the monitoring access endpoints.
type SessionRequest struct {
	SessionID string `json:"session_id"`
	ServiceID string `json:"service_id" binding:"required"`
}

// ServiceStats is one row of the monitoring dashboard.
type ServiceStats struct {
	ServiceID   string `json:"service_id"`
	ServiceName string `json:"service_name"`
	ActiveUsers int    `json:"active_users"`
	Accesses    int    `json:"accesses"`
	Status      string `json:"status"`
}
