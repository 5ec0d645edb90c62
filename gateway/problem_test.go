package gateway

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapError_DomainError(t *testing.T) {
	err := &NotFound{Detail: "widget 7 not found"}
	p := mapError(err, "/widgets/7")

	assert.Equal(t, "https://foundrykit.dev/problems/not-found", p.Type)
	assert.Equal(t, "Not Found", p.Title)
	assert.Equal(t, http.StatusNotFound, p.Status)
	assert.Equal(t, "widget 7 not found", p.Detail)
	assert.Equal(t, "/widgets/7", p.Instance)
}

func TestMapError_ValidationFailureCarriesFieldErrors(t *testing.T) {
	err := &ValidationFailure{
		Detail: "invalid request",
		Errors: []ValidationError{{Field: "name", Reason: "required"}},
	}
	p := mapError(err, "/widgets")

	assert.Equal(t, http.StatusUnprocessableEntity, p.Status)
	require := assert.New(t)
	require.Len(p.Errors, 1)
	require.Equal("name", p.Errors[0].Field)
	require.Equal("required", p.Errors[0].Reason)
}

func TestMapError_WrappedDomainError(t *testing.T) {
	inner := &Conflict{Detail: "already exists"}
	wrapped := errors.Join(errors.New("context"), inner)

	p := mapError(wrapped, "/widgets")
	assert.Equal(t, http.StatusConflict, p.Status)
}

func TestMapError_GenericErrorBecomesInternal(t *testing.T) {
	p := mapError(errors.New("boom"), "/widgets")

	assert.Equal(t, http.StatusInternalServerError, p.Status)
	assert.Equal(t, "https://foundrykit.dev/problems/internal-error", p.Type)
	assert.Empty(t, p.Detail)
}

func TestWriteProblem_SetsContentTypeAndBody(t *testing.T) {
	w := httptest.NewRecorder()
	WriteProblem(w, http.StatusForbidden, "Forbidden", "no access", "/x")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"title":"Forbidden"`)
	assert.Contains(t, w.Body.String(), `"detail":"no access"`)
}
