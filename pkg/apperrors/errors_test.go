package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrInsufficientStock_CarriesAvailableQuantity(t *testing.T) {
	err := ErrInsufficientStock("p-1", "Dates", 3)

	assert.Equal(t, CodeInsufficientStock, err.Code)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
	assert.Equal(t, "3", err.Details["available"])
	assert.Equal(t, "p-1", err.Details["product_id"])
	assert.Contains(t, err.Message, "only 3 available")
}

func TestHasCode_SeesThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("failed to place order: %w", ErrEmptyCart())

	assert.True(t, HasCode(wrapped, CodeEmptyCart))
	assert.False(t, HasCode(wrapped, CodeNoDebt))
	assert.False(t, HasCode(errors.New("plain"), CodeEmptyCart))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	appErr := FromError(errors.New("boom"))
	require.NotNil(t, appErr)
	assert.Equal(t, CodeInternalError, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.HTTPStatus)

	nf := ErrNotFound("user")
	assert.Same(t, nf, FromError(fmt.Errorf("lookup: %w", nf)))
}

func TestAppError_ErrorString(t *testing.T) {
	err := ErrValidation("bad input").Wrap(errors.New("cause"))
	assert.Equal(t, "VALIDATION_ERROR: bad input: cause", err.Error())
	assert.ErrorIs(t, err, err.Err)
}
