package middleware

import (
	"net/http"
	"slices"

	"github.com/mercato/mercato-backend/api/responses"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
)

// RequireRole admits callers holding any of the given roles.
func RequireRole(logg *logger.Logger, roles ...enums.ActorRole) func(http.Handler) http.Handler {
	return guard(logg, func(r *http.Request) *pkgerrors.Error {
		if slices.Contains(roles, RoleFromContext(r.Context())) {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeForbidden, "role required")
	})
}

// StoreContext gates seller routes on the token carrying a store and tags
// the request's log lines with it. Seller services scope every read and
// write to that store.
func StoreContext(logg *logger.Logger) func(http.Handler) http.Handler {
	check := guard(logg, func(r *http.Request) *pkgerrors.Error {
		if StoreIDFromContext(r.Context()) == nil {
			return pkgerrors.New(pkgerrors.CodeForbidden, "store context missing")
		}
		return nil
	})
	return func(next http.Handler) http.Handler {
		return check(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logg != nil {
				ctx := logg.WithField(r.Context(), "store_id", StoreIDFromContext(r.Context()).String())
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// guard rejects the request with the returned error, if any.
func guard(logg *logger.Logger, deny func(*http.Request) *pkgerrors.Error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := deny(r); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
