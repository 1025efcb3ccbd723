package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMic(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *float64
	}{
		{"less-or-equal unicode", "≤0.5", f(0.5)},
		{"less-or-equal ascii", "<=1", f(1)},
		{"off-scale doubles", ">16", f(32)},
		{"off-scale unicode doubles", "≥8", f(16)},
		{"combined drug keeps numerator", "4/76", f(4)},
		{"excel corrupted combined drug", "27851", f(4)},
		{"leading equals", "=2", f(2)},
		{"plain number", "0.25", f(0.25)},
		{"comma decimal", "0,5", f(0.5)},
		{"prefixed combined drug", "<=2/38", f(2)},
		{"implausibly large", "2000", nil},
		{"empty", "", nil},
		{"garbage", "no crece", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseMic(tt.input)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-9)
		})
	}
}

func TestParseHalo(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *float64
	}{
		{"prefixed keeps value", "<20", f(20)},
		{"greater keeps value", ">30", f(30)},
		{"plain", "22", f(22)},
		{"equals prefix", "=18", f(18)},
		{"text", "text", nil},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseHalo(tt.input)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-9)
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input string
		want  string // yyyy-mm-dd, "" for nil
	}{
		{"2024-12-31", "2024-12-31"},
		{"31/12/2024", "2024-12-31"},
		{"31-12-2024", "2024-12-31"},
		{"2024/12/31", "2024-12-31"},
		{"31/12/24", "2024-12-31"},
		{"2024-12-31 15:42:00", "2024-12-31"},
		{"12 mar 2024", "2024-03-12"},
		{"12 de marzo de 2024", "2024-03-12"},
		{"not a date", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseDate(tt.input)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Format("2006-01-02"))
		})
	}
}

func TestParseAge(t *testing.T) {
	assert.Nil(t, ParseAge("abc"))
	assert.Nil(t, ParseAge(""))

	got := ParseAge("42")
	require.NotNil(t, got)
	assert.Equal(t, 42.0, *got)

	got = ParseAge("0,5")
	require.NotNil(t, got)
	assert.Equal(t, 0.5, *got)
}

func TestMicHaloColumnDetection(t *testing.T) {
	prefix, ok := IsMicColumn("Amoxicilina CMI")
	assert.True(t, ok)
	assert.Equal(t, "amoxicilina", prefix)

	prefix, ok = IsMicColumn("amoxicilina_cmi")
	assert.True(t, ok)
	assert.Equal(t, "amoxicilina", prefix)

	prefix, ok = IsHaloColumn("Cipro-MM")
	assert.True(t, ok)
	assert.Equal(t, "cipro", prefix)

	_, ok = IsMicColumn("Amoxicilina")
	assert.False(t, ok)
}

func TestCleanNumericCell(t *testing.T) {
	assert.Equal(t, "0.5", CleanNumericCell("0,5"))
	assert.Equal(t, ">4/76", CleanNumericCell(">4/76"))
	assert.Equal(t, "texto", CleanNumericCell("texto"))
	assert.Equal(t, "", CleanNumericCell("  "))
}

func f(v float64) *float64 { return &v }
