package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapStorage(t *testing.T) {
	base := errors.New("connection refused")
	err := WrapStorage("orders.find", base)

	assert.True(t, IsStorageError(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "orders.find")

	assert.False(t, IsStorageError(ErrNotFound))
	assert.False(t, IsStorageError(nil))
}

func renderedStatus(t *testing.T, err error) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	RenderError(rec, err)
	var body struct {
		Error ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body.Error.Code
}

func TestRenderErrorMapping(t *testing.T) {
	status, code := renderedStatus(t, ErrNotFound)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", code)

	status, code = renderedStatus(t, ErrForbidden)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", code)

	status, code = renderedStatus(t, ErrInvalidSignature)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_SIGNATURE", code)

	status, code = renderedStatus(t, WrapStorage("op", errors.New("down")))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "STORAGE_ERROR", code)

	status, code = renderedStatus(t, NewAppError("ORDER_NOT_PENDING", "conflict", http.StatusConflict, nil))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ORDER_NOT_PENDING", code)

	status, code = renderedStatus(t, errors.New("anything else"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL", code)
}

func TestRenderErrorWrappedSentinel(t *testing.T) {
	wrapped := newWrapped(ErrNotFound)
	status, code := renderedStatus(t, wrapped)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", code)
}

func newWrapped(err error) error {
	return &wrapErr{err}
}

type wrapErr struct{ inner error }

func (w *wrapErr) Error() string { return "wrapped: " + w.inner.Error() }
func (w *wrapErr) Unwrap() error { return w.inner }
