package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/pkg/enums"
)

// AccessTokenPayload captures the identity carried by an access token.
type AccessTokenPayload struct {
	UserID  uuid.UUID
	StoreID *uuid.UUID
	Role    enums.ActorRole
}

// AccessTokenClaims represents the typed JWT presented by clients.
type AccessTokenClaims struct {
	UserID  uuid.UUID       `json:"user_id"`
	StoreID *uuid.UUID      `json:"store_id,omitempty"`
	Role    enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}
