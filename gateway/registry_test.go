package gateway

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(http.ResponseWriter, *http.Request) error { return nil }

func TestOperationBuilder_Build_Success(t *testing.T) {
	spec, err := NewOperation("get", "/widgets/{id}").
		OperationID("getWidget").
		Handler("getWidget", noopHandler).
		Response(ResponseSpec{Status: 200, Description: "ok"}).
		Public().
		Build()

	require.NoError(t, err)
	assert.Equal(t, "GET", spec.Method)
	assert.Equal(t, "/widgets/{id}", spec.Path)
	assert.True(t, spec.IsPublic)
}

func TestOperationBuilder_Build_MissingHandler(t *testing.T) {
	_, err := NewOperation("get", "/x").
		Response(ResponseSpec{Status: 200}).
		Public().
		Build()
	assert.ErrorContains(t, err, "handler is required")
}

func TestOperationBuilder_Build_NoResponses(t *testing.T) {
	_, err := NewOperation("get", "/x").
		Handler("h", noopHandler).
		Public().
		Build()
	assert.ErrorContains(t, err, "at least one response is required")
}

func TestOperationBuilder_Build_NoAuthDecision(t *testing.T) {
	_, err := NewOperation("get", "/x").
		Handler("h", noopHandler).
		Response(ResponseSpec{Status: 200}).
		Build()
	assert.ErrorContains(t, err, "auth decision")
}

func TestOperationBuilder_Build_PublicAndSecRequirementConflict(t *testing.T) {
	_, err := NewOperation("get", "/x").
		Handler("h", noopHandler).
		Response(ResponseSpec{Status: 200}).
		RequireAuth(SecRequirement{Resource: "widgets", Action: "read"}).
		Public().
		Build()
	assert.ErrorContains(t, err, "public operation cannot also declare sec_requirement")
}

func TestNormalizePath_RewritesWildcardSegment(t *testing.T) {
	assert.Equal(t, "/files/{path}", normalizePath("/files/{*path}"))
	assert.Equal(t, "/widgets/{id}", normalizePath("/widgets/{id}"))
}

func TestRegistry_RegisterOperation_DuplicatePathMethodRejected(t *testing.T) {
	reg := NewRegistry()
	spec, err := NewOperation("get", "/x").Handler("h1", noopHandler).
		Response(ResponseSpec{Status: 200}).Public().Build()
	require.NoError(t, err)
	require.NoError(t, reg.RegisterOperation(spec))

	dup, err := NewOperation("get", "/x").Handler("h2", noopHandler).
		Response(ResponseSpec{Status: 200}).Public().Build()
	require.NoError(t, err)
	assert.Error(t, reg.RegisterOperation(dup))
}

func TestRegistry_RegisterOperation_DuplicateHandlerIDRejected(t *testing.T) {
	reg := NewRegistry()
	spec1, err := NewOperation("get", "/x").Handler("same", noopHandler).
		Response(ResponseSpec{Status: 200}).Public().Build()
	require.NoError(t, err)
	require.NoError(t, reg.RegisterOperation(spec1))

	spec2, err := NewOperation("get", "/y").Handler("same", noopHandler).
		Response(ResponseSpec{Status: 200}).Public().Build()
	require.NoError(t, err)
	assert.Error(t, reg.RegisterOperation(spec2))
}

func TestRegistry_EnsureSchema_NoopWhenIdentical(t *testing.T) {
	reg := NewRegistry()
	doc := SchemaDoc{Name: "Widget", Type: "object"}
	assert.False(t, reg.EnsureSchema("Widget", doc))
	assert.False(t, reg.EnsureSchema("Widget", doc))
}

func TestRegistry_EnsureSchema_OverridesWhenDivergent(t *testing.T) {
	reg := NewRegistry()
	reg.EnsureSchema("Widget", SchemaDoc{Name: "Widget", Type: "object"})
	overridden := reg.EnsureSchema("Widget", SchemaDoc{Name: "Widget", Type: "string"})
	assert.True(t, overridden)
}

func TestRegistry_Snapshot_SortedByPathThenMethod(t *testing.T) {
	reg := NewRegistry()
	mustRegister := func(method, path, handlerID string) {
		spec, err := NewOperation(method, path).Handler(handlerID, noopHandler).
			Response(ResponseSpec{Status: 200}).Public().Build()
		require.NoError(t, err)
		require.NoError(t, reg.RegisterOperation(spec))
	}
	mustRegister("POST", "/b", "postB")
	mustRegister("GET", "/a", "getA")
	mustRegister("GET", "/b", "getB")

	snap := reg.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "/a", snap[0].Path)
	assert.Equal(t, "/b", snap[1].Path)
	assert.Equal(t, "GET", snap[1].Method)
	assert.Equal(t, "/b", snap[2].Path)
	assert.Equal(t, "POST", snap[2].Method)
}
