package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles accepted on staff-facing endpoints. Session issuance lives in the
// identity service; this package only verifies what it minted.
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// AccessTokenClaims represents the typed JWT issued to staff clients.
type AccessTokenClaims struct {
	UserID   uuid.UUID  `json:"user_id"`
	StudioID *uuid.UUID `json:"studio_id,omitempty"`
	Role     string     `json:"role"`
	jwt.RegisteredClaims
}
