package rubric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Parallel()
	c, err := Load()
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, 1, c.Version())
	assert.GreaterOrEqual(t, c.Len(), len(canonicalKeys))
	for _, k := range canonicalKeys {
		assert.True(t, c.Has(k), "missing canonical key %q", k)
		r, ok := c.Get(k)
		require.True(t, ok)
		assert.Equal(t, k, r.Key)
		assert.NotEmpty(t, r.Prompt)
	}
}

func TestCatalogGetUnknownKey(t *testing.T) {
	t.Parallel()
	c, err := Load()
	require.NoError(t, err)

	_, ok := c.Get(Key("nonexistent"))
	assert.False(t, ok)
	assert.False(t, c.Has(Key("nonexistent")))
}
