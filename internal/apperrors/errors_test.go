package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", NewValidationError("bad id", nil), http.StatusBadRequest},
		{"not found", NewNotFoundError("Image not found", nil), http.StatusNotFound},
		{"storage", NewStorageError("could not save file", errors.New("disk full")), http.StatusInternalServerError},
		{"too large", NewTooLargeError("upload too large", nil), http.StatusRequestEntityTooLarge},
		{"wrapped", fmt.Errorf("handler: %w", NewNotFoundError("gone", nil)), http.StatusNotFound},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, GetStatusCode(tt.err))
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("constraint failed")
	err := NewStorageError("could not save image metadata", cause)

	require.ErrorIs(t, err, cause)
	require.True(t, IsType(err, ErrorTypeStorage))
	require.False(t, IsType(err, ErrorTypeNotFound))
	require.Contains(t, err.Error(), "constraint failed")
}
