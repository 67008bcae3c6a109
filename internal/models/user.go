package models

import (
	"strings"
	"time"
)

type UserRole string

const (
	UserRoleSuperAdmin UserRole = "SUPER_ADMIN"
	UserRoleAdmin      UserRole = "ADMIN"
	UserRoleEditor     UserRole = "EDITOR"
	UserRoleMember     UserRole = "MEMBER"
	UserRoleClient     UserRole = "CLIENT"
	UserRoleViewer     UserRole = "VIEWER"
)

// AllRoles lists every role in descending order of privilege.
var AllRoles = []UserRole{
	UserRoleSuperAdmin,
	UserRoleAdmin,
	UserRoleEditor,
	UserRoleMember,
	UserRoleClient,
	UserRoleViewer,
}

func (r UserRole) Valid() bool {
	for _, role := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

type UserStatus string

const (
	UserStatusActive              UserStatus = "ACTIVE"
	UserStatusInactive            UserStatus = "INACTIVE"
	UserStatusSuspended           UserStatus = "SUSPENDED"
	UserStatusPendingVerification UserStatus = "PENDING_VERIFICATION"
)

func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusInactive, UserStatusSuspended, UserStatusPendingVerification:
		return true
	}
	return false
}

type User struct {
	ID           string
	Email        string
	Username     *string
	FirstName    string
	LastName     string
	PasswordHash string `json:"-"`
	Role         UserRole
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLogin    *time.Time
}

// PublicUser is the only user shape that leaves the service.
type PublicUser struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Username  *string    `json:"username,omitempty"`
	FirstName string     `json:"firstName,omitempty"`
	LastName  string     `json:"lastName,omitempty"`
	Role      UserRole   `json:"role"`
	Status    UserStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
		Status:    u.Status,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
		LastLogin: u.LastLogin,
	}
}

// NormalizeEmail is applied on every write and every lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

type Session struct {
	ID           string
	UserID       string
	SessionToken string
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the session must be treated as absent at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

type SessionMeta struct {
	IPAddress string
	UserAgent string
}
