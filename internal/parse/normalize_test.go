package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Águila ", "aguila"},
		{"  Ciprofloxacino  ", "ciprofloxacino"},
		{"NO   se  Detecta", "no se detecta"},
		{"BLEE", "blee"},
		{"", ""},
		{"Peñalver", "penalver"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.input), "input %q", tt.input)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"Águila ", "No se detecta BLEE", "ción", "  a  b  c  "}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once))
	}
}

func TestHashNH(t *testing.T) {
	h := NewHasher("pre", "post")

	a := h.HashNH("12345")
	b := h.HashNH("12345")
	c := h.HashNH("12346")

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, "^[0-9a-f]{64}$", a)

	// A different salt pair changes every hash.
	other := NewHasher("pre2", "post")
	assert.NotEqual(t, a, other.HashNH("12345"))
}

func TestFallbackHash(t *testing.T) {
	a := FallbackHash(1700000000, 1, 42)
	b := FallbackHash(1700000000, 1, 42)
	c := FallbackHash(1700000000, 2, 42)

	assert.Len(t, a, 16)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
