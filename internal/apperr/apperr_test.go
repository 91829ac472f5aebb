package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrappedError(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("upload: %w", Wrap(IOFailure, "failed to write file", cause))

	assert.Equal(t, IOFailure, KindOf(err))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "failed to write file", MessageOf(err))
	assert.Equal(t, "upload: failed to write file: disk full", err.Error())
}

func TestKindOfPlainError(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, IOFailure, KindOf(err))
	assert.Equal(t, "internal error", MessageOf(err))
	assert.False(t, Is(nil, IOFailure))
}

func TestIs(t *testing.T) {
	err := New(Expired, "session expired")

	assert.True(t, Is(err, Expired))
	assert.False(t, Is(err, Gone))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected int
	}{
		{BadRequest, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{Invalid, http.StatusNotFound},
		{Expired, http.StatusGone},
		{Gone, http.StatusGone},
		{Forbidden, http.StatusForbidden},
		{QuotaExceeded, http.StatusTooManyRequests},
		{ExceededQuota, http.StatusTooManyRequests},
		{PayloadTooLarge, http.StatusRequestEntityTooLarge},
		{Conflict, http.StatusConflict},
		{StorageUnavailable, http.StatusServiceUnavailable},
		{IOFailure, http.StatusInternalServerError},
		{Kind("Unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.kind))
		})
	}
}
