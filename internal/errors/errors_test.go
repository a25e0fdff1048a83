package errors_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	apperror "paletteledger/internal/errors"
)

func TestMapToHTTPStatus_Taxonomy(t *testing.T) {
	cases := []struct {
		err      error
		status   int
		category string
	}{
		{apperror.NewInvalidQuantityError("0"), http.StatusBadRequest, apperror.CategoryInvalidQuantity},
		{apperror.NewInvalidStateError("RECU"), http.StatusConflict, apperror.CategoryInvalidState},
		{apperror.NewNotFoundError("x"), http.StatusNotFound, apperror.CategoryNotFound},
		{apperror.NewQuotaExceededError("x"), http.StatusConflict, apperror.CategoryQuotaExceeded},
		{apperror.NewOutsideOperatingWindowError("x"), http.StatusConflict, apperror.CategoryOutsideOperatingWindow},
		{apperror.NewDuplicateDisputeError("x"), http.StatusConflict, apperror.CategoryDuplicateDispute},
		{apperror.NewConflictError("x"), http.StatusConflict, apperror.CategoryConcurrentModification},
		{apperror.NewUnauthorizedError("x"), http.StatusUnauthorized, apperror.CategoryUnauthorized},
		{apperror.NewForbiddenError("x"), http.StatusForbidden, apperror.CategoryForbidden},
	}

	for _, tc := range cases {
		status, category, _ := apperror.MapToHTTPStatus(tc.err)
		assert.Equal(t, tc.status, status, tc.category)
		assert.Equal(t, tc.category, category)
	}
}

func TestMapToHTTPStatus_WrappedError(t *testing.T) {
	err := fmt.Errorf("depósito: %w", apperror.NewQuotaExceededError("site cheio"))

	status, category, message := apperror.MapToHTTPStatus(err)

	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, apperror.CategoryQuotaExceeded, category)
	assert.Contains(t, message, "site cheio")
}

func TestMapToHTTPStatus_InternalHidesCause(t *testing.T) {
	err := apperror.NewDBError("falha", fmt.Errorf("pq: password authentication failed"))

	status, category, message := apperror.MapToHTTPStatus(err)

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, apperror.CategoryInternal, category)
	assert.NotContains(t, message, "password")
}

func TestMapToHTTPStatus_UntypedError(t *testing.T) {
	status, category, _ := apperror.MapToHTTPStatus(fmt.Errorf("boom"))

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, apperror.CategoryUnknown, category)
}

func TestIsRetryable_OnlyConcurrentModification(t *testing.T) {
	assert.True(t, apperror.IsRetryable(apperror.NewConflictError("versão")))
	assert.True(t, apperror.IsRetryable(fmt.Errorf("wrap: %w", apperror.NewConflictError("versão"))))
	assert.False(t, apperror.IsRetryable(apperror.NewQuotaExceededError("x")))
	assert.False(t, apperror.IsRetryable(fmt.Errorf("boom")))
}

func TestIsDomainError(t *testing.T) {
	assert.True(t, apperror.IsDomainError(apperror.NewNotFoundError("x")))
	assert.False(t, apperror.IsDomainError(apperror.NewInternalError("x", nil)))
	assert.False(t, apperror.IsDomainError(fmt.Errorf("x")))
}
