package core_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyflow/studyflow/core"
)

func TestJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	core.JSON(rec, http.StatusCreated, map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":"abc"}`, rec.Body.String())
}

func TestJSONError(t *testing.T) {
	t.Parallel()

	t.Run("http error maps to its status and code", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		core.JSONError(rec, core.ErrNotFound)

		assert.Equal(t, http.StatusNotFound, rec.Code)

		var body struct {
			Error core.ErrorDetail `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "not_found", body.Error.Code)
	})

	t.Run("wrapped http error still matches", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		core.JSONError(rec, fmt.Errorf("lookup user: %w", core.ErrForbidden))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown error hides details behind a 500", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		core.JSONError(rec, errors.New("connection string with password"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "password")
	})
}
