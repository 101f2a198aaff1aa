package auth

import "time"

type Role string

const (
	RoleCreator   Role = "creator"
	RoleModerator Role = "moderator"
)

// User is the domain representation of an authenticated user. The user id
// doubles as the ledger address. No JSON annotations here so the struct can
// be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
