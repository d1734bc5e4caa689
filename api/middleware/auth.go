package middleware

import (
	"net/http"
	"strings"

	"github.com/mercato/mercato-backend/api/responses"
	pkgAuth "github.com/mercato/mercato-backend/pkg/auth"
	"github.com/mercato/mercato-backend/pkg/config"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/outbox"
)

// Auth validates a bearer token and seeds the request context with the actor.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return authenticate(cfg, logg, false)
}

// OptionalAuth lets anonymous requests through untouched but still rejects
// a bad token. Cart routes use it so guests can shop with a session token.
func OptionalAuth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return authenticate(cfg, logg, true)
}

func authenticate(cfg config.JWTConfig, logg *logger.Logger, optional bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if optional {
					next.ServeHTTP(w, r)
					return
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			if claims.Role == enums.ActorRoleSystem {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "system tokens are not accepted"))
				return
			}
			if claims.Role == enums.ActorRoleSeller && claims.StoreID == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "seller token missing store"))
				return
			}

			userID := claims.UserID
			actor := &outbox.ActorRef{UserID: &userID, StoreID: claims.StoreID, Role: claims.Role}
			ctx := WithActor(r.Context(), actor)

			if logg != nil {
				storeID := ""
				if claims.StoreID != nil {
					storeID = claims.StoreID.String()
				}
				ctx = logg.WithActor(ctx, userID.String(), storeID, string(claims.Role))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
