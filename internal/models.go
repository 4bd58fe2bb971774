package database

import (
	"time"
)

// UserStatus is the approval state of an account.
type UserStatus string

const (
	UserPending  UserStatus = "pending"
	UserApproved UserStatus = "approved"
	UserRejected UserStatus = "rejected"
)

// RequestStatus is the state of an access request.
type RequestStatus string

const (
	RequestPending       RequestStatus = "pending"
	RequestApproved      RequestStatus = "approved"
	RequestRejected      RequestStatus = "rejected"
	RequestRemovePending RequestStatus = "remove_pending"
)

// Open reports whether the request still blocks a new request for the same pair.
func (s RequestStatus) Open() bool {
	return s == RequestPending || s == RequestApproved || s == RequestRemovePending
}

// User represents the 'users' table
type User struct {
	ID               int64      `db:"id"`
	Email            string     `db:"email"`
	HashedPassword   string     `db:"hashed_password"`
	IsAdmin          bool       `db:"is_admin"`
	Status           UserStatus `db:"status"`
	RegistrationDate time.Time  `db:"registration_date"`
	ApprovalDate     *time.Time `db:"approval_date"`
}

// Service represents the 'services' table. Port is nil when the URL carried none.
type Service struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Protocol    string    `db:"protocol"`
	Host        string    `db:"host"`
	Port        *int      `db:"port"`
	BasePath    string    `db:"base_path"`
	Description *string   `db:"description"`
	ShowInfo    bool      `db:"show_info"`
	IsPublic    bool      `db:"is_public"`
	IsIP        bool      `db:"is_ip"`
	CreatedAt   time.Time `db:"created_at"`
}

// Grant represents the 'user_services' association table
type Grant struct {
	UserID    int64  `db:"user_id"`
	ServiceID string `db:"service_id"`
	ShowInfo  bool   `db:"show_info"`
}

// AccessRequest represents the 'service_requests' table
type AccessRequest struct {
	ID           int64         `db:"id" json:"id"`
	UserID       int64         `db:"user_id" json:"user_id"`
	ServiceID    string        `db:"service_id" json:"service_id"`
	Status       RequestStatus `db:"status" json:"status"`
	RequestDate  time.Time     `db:"request_date" json:"request_date"`
	ResponseDate *time.Time    `db:"response_date" json:"response_date"`
	AdminCreated bool          `db:"admin_created" json:"admin_created"`
	UserRemoved  bool          `db:"user_removed" json:"user_removed"`
}

// AccessRequestDetail joins a request with the user email and service name.
type AccessRequestDetail struct {
	AccessRequest
	UserEmail   string `db:"user_email" json:"user_email"`
	ServiceName string `db:"service_name" json:"service_name"`
}

// ServiceStatus represents the 'service_status' table (one row per health probe)
type ServiceStatus struct {
	ID           int64     `db:"id" json:"id"`
	ServiceID    string    `db:"service_id" json:"service_id"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CheckTime    time.Time `db:"check_time" json:"check_time"`
	ResponseTime *float64  `db:"response_time" json:"response_time"`
	ErrorMessage *string   `db:"error_message" json:"error_message"`
	Details      *string   `db:"details" json:"details"`
	RetryCount   int       `db:"retry_count" json:"retry_count"`
}

// AccessSession represents the 'service_access' table
type AccessSession struct {
	ID           int64      `db:"id" json:"id"`
	SessionID    string     `db:"session_id" json:"session_id"`
	UserID       *int64     `db:"user_id" json:"user_id"`
	ServiceID    string     `db:"service_id" json:"service_id"`
	AccessTime   time.Time  `db:"access_time" json:"access_time"`
	LastActivity time.Time  `db:"last_activity" json:"last_activity"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	EndTime      *time.Time `db:"end_time" json:"end_time"`
}

// ServiceUsage is one row of the per-service statistics query.
type ServiceUsage struct {
	ServiceID   string `db:"service_id" json:"service_id"`
	ServiceName string `db:"service_name" json:"service_name"`
	ActiveUsers int    `db:"active_users" json:"active_users"`
	Accesses    int    `db:"accesses" json:"accesses"`
}
