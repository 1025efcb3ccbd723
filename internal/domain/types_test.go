package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpretationValidity(t *testing.T) {
	for _, it := range []Interpretation{S, I, R, ND, NA} {
		assert.True(t, it.IsValid())
	}
	assert.False(t, Interpretation("X").IsValid())
	assert.False(t, Interpretation("").IsValid())
}

func TestInterpretationCountable(t *testing.T) {
	assert.True(t, S.Countable())
	assert.True(t, I.Countable())
	assert.True(t, R.Countable())
	assert.False(t, ND.Countable())
	assert.False(t, NA.Countable())
}

func TestAntibioticVariantInvariant(t *testing.T) {
	parent := int64(1)

	base := &Antibiotic{ID: 1, Name: "Base"}
	assert.NoError(t, base.Validate())

	variant := &Antibiotic{ID: 2, Name: "Variant", IsVariant: true, ParentID: &parent}
	assert.NoError(t, variant.Validate())

	broken := &Antibiotic{ID: 3, Name: "Broken", IsVariant: true}
	assert.ErrorIs(t, broken.Validate(), ErrVariantParent)

	alsoBroken := &Antibiotic{ID: 4, Name: "AlsoBroken", ParentID: &parent}
	assert.ErrorIs(t, alsoBroken.Validate(), ErrVariantParent)
}

func TestAgeGroupOf(t *testing.T) {
	age := func(v float64) *float64 { return &v }

	assert.Equal(t, AgeUnder15, AgeGroupOf(age(3)))
	assert.Equal(t, Age15To70, AgeGroupOf(age(15)))
	assert.Equal(t, Age15To70, AgeGroupOf(age(70)))
	assert.Equal(t, AgeOver70, AgeGroupOf(age(71)))
	assert.Equal(t, AgeGroup(""), AgeGroupOf(nil))
}

func TestVersionCovers(t *testing.T) {
	until := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	v := &EucastVersion{
		Year: 2023, ValidFrom: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), ValidUntil: &until,
	}
	assert.True(t, v.Covers(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, v.Covers(until))
	assert.False(t, v.Covers(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, v.Covers(time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC)))

	open := &EucastVersion{Year: 2024, ValidFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	assert.True(t, open.Covers(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestCatalogIntrinsicTransitivity(t *testing.T) {
	c := NewCatalog()
	parent := int64(1)
	c.Drugs[1] = &Antibiotic{ID: 1, Name: "Base"}
	c.Drugs[2] = &Antibiotic{ID: 2, Name: "Variant", IsVariant: true, ParentID: &parent}
	c.Drugs[3] = &Antibiotic{ID: 3, Name: "Other"}
	c.Reindex()

	org := &Organism{ID: 1, IntrinsicResistance: []int64{1}}

	assert.True(t, c.IsIntrinsic(org, 1))
	assert.True(t, c.IsIntrinsic(org, 2), "a variant inherits its base's intrinsic resistance")
	assert.False(t, c.IsIntrinsic(org, 3))

	set := c.IntrinsicSet(org)
	assert.True(t, set[1])
	assert.True(t, set[2])
	assert.False(t, set[3])
}

func TestRecordKeyDistinguishesNilAge(t *testing.T) {
	base := &Record{TenantID: 1, Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), PatientHash: "h"}
	withAge := *base
	age := 0.0
	withAge.Age = &age

	require.NotEqual(t, base.Key(), withAge.Key(), "age 0 differs from unknown age")
}
