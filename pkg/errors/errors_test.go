package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized},
		{code: CodeForbidden, status: http.StatusForbidden},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeConflict, status: http.StatusConflict},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodePaymentDeclined, status: http.StatusPaymentRequired, detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		assert.Equal(t, tt.status, meta.HTTPStatus, tt.code)
		assert.Equal(t, tt.retryable, meta.Retryable, tt.code)
		assert.Equal(t, tt.detailsOK, meta.DetailsAllowed, tt.code)
		assert.NotEmpty(t, meta.PublicMessage, tt.code)
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	assert.Equal(t, http.StatusInternalServerError, meta.HTTPStatus)
}

func TestWrapKeepsCauseReachable(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := Wrap(CodeDependency, cause, "capture payment")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, CodeDependency, err.Code())
	assert.Contains(t, err.Error(), "connection reset")
}

func TestCodeOfFollowsChain(t *testing.T) {
	inner := New(CodeStateConflict, "escrow already released")
	outer := fmt.Errorf("refund sub-order: %w", inner)

	assert.Equal(t, CodeStateConflict, CodeOf(outer))
	assert.True(t, IsCode(outer, CodeStateConflict))
	assert.False(t, IsCode(stdErrors.New("plain"), CodeStateConflict))
	assert.Equal(t, CodeInternal, CodeOf(stdErrors.New("plain")))
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	notFound := New(CodeNotFound, "")
	err := fmt.Errorf("load order: %w", New(CodeNotFound, "order not found"))

	assert.True(t, stdErrors.Is(err, notFound))
	assert.False(t, stdErrors.Is(err, New(CodeConflict, "")))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(stdErrors.New("socket closed")))
	assert.True(t, IsRetryable(Wrap(CodeDependency, stdErrors.New("timeout"), "transfer")))
	assert.False(t, IsRetryable(New(CodePaymentDeclined, "card declined")))
	assert.False(t, IsRetryable(fmt.Errorf("payout: %w", New(CodeValidation, "bad amount"))))
}
