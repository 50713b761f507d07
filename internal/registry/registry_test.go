package registry_test

import (
	"testing"

	"github.com/agentguard/agentguard/internal/registry"
	"github.com/agentguard/agentguard/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	r, err := registry.New(t.Context(), s, []byte("test-secret"), nil)
	require.NoError(t, err)
	return r
}

func TestNew_SeedsDefaultCatalogIdempotently(t *testing.T) {
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = registry.New(t.Context(), s, []byte("k"), nil)
	require.NoError(t, err)
	_, err = registry.New(t.Context(), s, []byte("k"), nil)
	require.NoError(t, err)

	r, err := registry.New(t.Context(), s, []byte("k"), nil)
	require.NoError(t, err)
	defs, err := r.List(t.Context())
	require.NoError(t, err)
	require.Len(t, defs, 8)
}

func TestGet_ReturnsSignedDefinition(t *testing.T) {
	r := newTestRegistry(t)
	def, err := r.Get(t.Context(), "mcp:read_logs", "1.0.0")
	require.NoError(t, err)
	require.Equal(t, "mcp:read_logs", def.ToolID)
	require.NotEmpty(t, def.Signature)
	require.True(t, registry.Verify([]byte("test-secret"), def))
}

func TestGet_NotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get(t.Context(), "mcp:does_not_exist", "1.0.0")
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestVerify_RejectsTamperedSignature(t *testing.T) {
	r := newTestRegistry(t)
	def, err := r.Get(t.Context(), "mcp:read_logs", "1.0.0")
	require.NoError(t, err)

	def.Signature = "0000"
	require.False(t, registry.Verify([]byte("test-secret"), def))

	require.False(t, registry.Verify([]byte("wrong-secret"), def))
}

func TestValidateParams_EnforcesSchemaBounds(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.ValidateParams("mcp:read_logs", map[string]any{"limit": 10}))
	require.Error(t, r.ValidateParams("mcp:read_logs", map[string]any{"limit": 5073}))
}

func TestValidateParams_UnknownToolIsPermissive(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.ValidateParams("mcp:unregistered_tool", map[string]any{"anything": "goes"}))
}
