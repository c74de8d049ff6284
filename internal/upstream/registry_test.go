package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"api-gateway/internal/config"
)

func TestNewRegistry_Defaults(t *testing.T) {
	reg, err := NewRegistry(config.Default())
	require.NoError(t, err)

	auth, err := reg.Resolve(Auth)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8001", auth.String())

	product, err := reg.Resolve(Product)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8002", product.String())

	assert.Equal(t, []string{Auth, Product}, reg.Names())
}

func TestResolve_Unknown(t *testing.T) {
	reg, err := New(map[string]string{Auth: "http://auth:8001"})
	require.NoError(t, err)

	_, err = reg.Resolve("billing")
	require.ErrorIs(t, err, ErrUnknownUpstream)
	assert.Contains(t, err.Error(), `"billing"`)
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := New(map[string]string{Auth: "localhost:8001/api"})
	require.Error(t, err)

	_, err = New(map[string]string{Product: "/api/products"})
	require.Error(t, err)
}
