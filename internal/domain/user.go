package domain

import (
	"strings"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

type User struct {
	ID                 string
	Email              string
	FirstName          string
	LastName           string
	CompanyID          string
	Role               Role
	Status             Status
	PasswordHash       string
	MustChangePassword bool

	MagicToken          string
	MagicLinkURL        string
	MagicTokenExpiresAt *time.Time
}

func (u *User) Active() bool {
	return u.Status == StatusActive
}

// Identity is what the session layer receives after any successful login.
type Identity struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	CompanyID          string `json:"company_id"`
	Role               Role   `json:"role"`
	MustChangePassword bool   `json:"must_change_password"`
}

func (u *User) Identity() *Identity {
	return &Identity{
		ID:                 u.ID,
		Email:              u.Email,
		FirstName:          u.FirstName,
		LastName:           u.LastName,
		CompanyID:          u.CompanyID,
		Role:               u.Role,
		MustChangePassword: u.MustChangePassword,
	}
}

// NormalizeEmail trims and lowercases an address. Every lookup and every
// issued link goes through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
