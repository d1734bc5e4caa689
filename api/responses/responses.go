package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/pagination"
	"github.com/mercato/mercato-backend/pkg/types"
)

// encodeFailure is written verbatim when a payload cannot be marshalled.
const encodeFailure = `{"error":{"code":"INTERNAL_ERROR","message":"failed to encode response"}}` + "\n"

// publicCodes may surface the error's own message to callers; everything
// else is replaced by the code's generic text.
var publicCodes = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation:      true,
	pkgerrors.CodeForbidden:       true,
	pkgerrors.CodeUnauthorized:    true,
	pkgerrors.CodeNotFound:        true,
	pkgerrors.CodeConflict:        true,
	pkgerrors.CodeStateConflict:   true,
	pkgerrors.CodeIdempotency:     true,
	pkgerrors.CodePaymentDeclined: true,
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WritePage renders one page of a cursor listing. Empty pages encode as [].
func WritePage[T any](w http.ResponseWriter, page pagination.Page[T]) {
	items := page.Items
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, types.PageEnvelope{Data: items, NextCursor: page.NextCursor})
}

// WriteError maps err onto its HTTP status and logs it: server faults at
// error level, client mistakes as warnings.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	code := typed.Code()
	meta := pkgerrors.MetadataFor(code)

	apiErr := types.APIError{
		Code:      string(code),
		Message:   meta.PublicMessage,
		RequestID: logger.RequestID(ctx),
	}
	if m := typed.Message(); publicCodes[code] && m != "" {
		apiErr.Message = m
	}
	if meta.DetailsAllowed {
		if details := typed.Details(); details != nil {
			apiErr.Details = details
		}
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"error_code": string(code),
			"status":     meta.HTTPStatus,
		})
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(ctx, "request.error", err)
		} else {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "request.rejected")
		}
	}

	writeJSON(w, meta.HTTPStatus, types.ErrorEnvelope{Error: apiErr})
}

// writeJSON encodes before touching the writer so a marshal failure still
// yields a well-formed 500 instead of a truncated body.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(encodeFailure))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
