package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mercato/mercato-backend/api/responses"
	"github.com/mercato/mercato-backend/api/validators"
	compliancesvc "github.com/mercato/mercato-backend/internal/compliance"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
)

// ComplianceTrail pages the audit entries of one financial entity.
func ComplianceTrail(svc compliancesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "compliance")
			return
		}
		entity, err := enums.ParseComplianceEntity(chi.URLParam(r, "entityType"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid entity type"))
			return
		}
		entityID, ok := pathID(w, r, logg, "entityId")
		if !ok {
			return
		}
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.List(r.Context(), entity, entityID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WritePage(w, page)
	}
}
