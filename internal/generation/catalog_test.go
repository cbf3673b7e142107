package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	assert.True(t, c.Has("mewing"))
	assert.False(t, c.Has("face-yoga"))
	assert.Equal(t, []string{"heavy-jaw-load"}, c.Groups("mastic-gum"))
	assert.Empty(t, c.Groups("sunscreen"))
	assert.IsIncreasing(t, c.IDs())
}

func TestParseCatalog_Errors(t *testing.T) {
	_, err := ParseCatalog([]byte("activities: []"))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte(`
activities:
  - id: a
  - id: a
`))
	assert.ErrorContains(t, err, "duplicate")

	_, err = ParseCatalog([]byte(`
activities:
  - id: a
exclusive_groups:
  - name: g
    activities: [a, b]
`))
	assert.ErrorContains(t, err, "unknown activity")
}
