package alias

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type overlay struct {
	id      int
	name    string
	aliases []string
}

func build(rows []overlay) *Cache[overlay] {
	return Build(rows,
		func(o overlay) string { return o.name },
		func(o overlay) []string { return o.aliases })
}

func TestExactLookup(t *testing.T) {
	c := build([]overlay{
		{id: 1, name: "Hombre", aliases: []string{"varon", "M"}},
		{id: 2, name: "Mujer", aliases: []string{"F"}},
	})

	got, ok := c.Exact("  VARÓN ")
	require.True(t, ok)
	assert.Equal(t, 1, got.id)

	got, ok = c.Exact("mujer")
	require.True(t, ok)
	assert.Equal(t, 2, got.id)

	_, ok = c.Exact("desconocido")
	assert.False(t, ok)
}

func TestFirstWriterWins(t *testing.T) {
	c := build([]overlay{
		{id: 1, name: "Orina", aliases: []string{"muestra"}},
		{id: 2, name: "Sangre", aliases: []string{"muestra"}},
	})

	got, ok := c.Exact("muestra")
	require.True(t, ok)
	assert.Equal(t, 1, got.id)
	assert.Equal(t, 3, c.Len())
}

func TestContainsLookup(t *testing.T) {
	c := build([]overlay{
		{id: 1, name: "BLEE", aliases: []string{"esbl"}},
		{id: 2, name: "Carbapenemasa"},
	})

	hits := c.Contains("Posible BLEE y carbapenemasa")
	require.Len(t, hits, 2)
	assert.Equal(t, 1, hits[0].Value.id)
	assert.Equal(t, 2, hits[1].Value.id)

	assert.Empty(t, c.Contains("sin hallazgos"))
	assert.Empty(t, c.Contains(""))
}
