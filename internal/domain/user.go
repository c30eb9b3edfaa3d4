package domain

import (
	"time"

	"github.com/google/uuid"
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account statuses
const (
	AccountActive   = "active"
	AccountDisabled = "disabled"
)

// User represents a user entity in the system
type User struct {
	UserID             uuid.UUID  `json:"user_id"`
	Username           string     `json:"username"`
	PasswordHash       string     `json:"-"`
	DisplayName        string     `json:"display_name"`
	AvatarURL          *string    `json:"avatar_url,omitempty"`
	Role               string     `json:"role"`
	Status             string     `json:"status"` // active, disabled
	ScheduledDisableAt *time.Time `json:"scheduled_disable_at,omitempty"`
	ScheduledEnableAt  *time.Time `json:"scheduled_enable_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsDisabled reports whether the account may not sign in or connect
func (u *User) IsDisabled() bool {
	return u.Status == AccountDisabled
}

// UserLogin represents login credentials
type UserLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is returned on successful login
type LoginResponse struct {
	AccessToken string        `json:"access_token"`
	ExpiresAt   time.Time     `json:"expires_at"`
	User        *UserResponse `json:"user"`
}

// UserResponse is the safe user representation returned to clients and
// embedded in realtime payloads
type UserResponse struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
}

// ToResponse converts User to UserResponse (removes sensitive data)
func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		UserID:      u.UserID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}

// PresenceEntry is one row of the online snapshot and the payload of
// user-online / user-offline
type PresenceEntry struct {
	UserID   uuid.UUID     `json:"userId"`
	User     *UserResponse `json:"user,omitempty"`
	LastSeen time.Time     `json:"lastSeen"`
}
