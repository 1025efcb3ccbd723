package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensibyte/SensiByte/internal/domain"
	"github.com/sensibyte/SensiByte/internal/testkit"
)

func newEngine(t *testing.T) (*Engine, *testkit.Env) {
	t.Helper()
	env := testkit.NewEnv()
	return NewEngine(env.Catalog, env.Logger), env
}

func TestInterpretMicPrecedence(t *testing.T) {
	rule := &domain.BreakpointRule{
		SMicMax: testkit.Ptr(8.0), RMicMin: testkit.Ptr(8.0),
		SHaloMin: testkit.Ptr(19.0), RHaloMax: testkit.Ptr(19.0),
	}

	// Halo alone would say S, but the MIC wins and says R.
	mic := 20.0
	halo := 25.0
	assert.Equal(t, domain.R, Interpret(rule, &mic, &halo))

	// Without MIC the halo path is used.
	assert.Equal(t, domain.S, Interpret(rule, nil, &halo))
}

func TestInterpretMicZones(t *testing.T) {
	rule := &domain.BreakpointRule{SMicMax: testkit.Ptr(2.0), RMicMin: testkit.Ptr(4.0)}

	tests := []struct {
		mic  float64
		want domain.Interpretation
	}{
		{1, domain.S},
		{2, domain.S},
		{4, domain.I},  // 2 < 4 < 8: the I zone is open on both sides
		{6, domain.I},
		{9, domain.R},  // > 2·r_mic_min
		{16, domain.R},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Interpret(rule, &tt.mic, nil), "mic=%v", tt.mic)
	}
}

func TestInterpretIZoneExclusive(t *testing.T) {
	// s_mic_max < 2·r_mic_min leaves a non-empty I zone disjoint from S and R.
	// Both I and R bounds are strict, so mic = 2·r_mic_min itself is ND.
	rule := &domain.BreakpointRule{SMicMax: testkit.Ptr(1.0), RMicMin: testkit.Ptr(2.0)}
	for _, mic := range []float64{0.5, 1, 1.5, 2, 3, 4, 4.5, 8} {
		got := Interpret(rule, &mic, nil)
		switch {
		case mic <= 1:
			assert.Equal(t, domain.S, got, "mic=%v", mic)
		case mic > 4:
			assert.Equal(t, domain.R, got, "mic=%v", mic)
		case mic == 4:
			assert.Equal(t, domain.ND, got, "mic=%v", mic)
		default:
			assert.Equal(t, domain.I, got, "mic=%v", mic)
		}
	}
}

func TestInterpretNoInputs(t *testing.T) {
	rule := &domain.BreakpointRule{SMicMax: testkit.Ptr(2.0)}
	assert.Equal(t, domain.ND, Interpret(rule, nil, nil))

	// Only one bound set and the measurement outside it: not determined.
	mic := 5.0
	assert.Equal(t, domain.ND, Interpret(rule, &mic, nil))
}

func TestInterpretHaloZones(t *testing.T) {
	rule := &domain.BreakpointRule{SHaloMin: testkit.Ptr(25.0), RHaloMax: testkit.Ptr(22.0)}

	tests := []struct {
		halo float64
		want domain.Interpretation
	}{
		{26, domain.S},
		{25, domain.S},
		{23, domain.I},
		{22, domain.I},
		{20, domain.R},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Interpret(rule, nil, &tt.halo), "halo=%v", tt.halo)
	}
}

func TestConditionGroupScope(t *testing.T) {
	e, env := newEngine(t)

	cond := &domain.TaxonCondition{
		Scope:   domain.ScopeGroup,
		Include: []int64{testkit.OrgEcoli},
	}

	// Same EUCAST group matches even for another species.
	assert.True(t, e.ConditionApplies(cond, env.Catalog.Organisms[testkit.OrgKpneumoniae]))
	assert.True(t, e.ConditionApplies(cond, env.Catalog.Organisms[testkit.OrgEcoli]))

	// An excluded organism never matches, whatever the include says.
	cond.Exclude = []int64{testkit.OrgKpneumoniae}
	assert.False(t, e.ConditionApplies(cond, env.Catalog.Organisms[testkit.OrgKpneumoniae]))
	assert.True(t, e.ConditionApplies(cond, env.Catalog.Organisms[testkit.OrgEcoli]))
}

func TestConditionCustomScope(t *testing.T) {
	e, env := newEngine(t)

	cond := &domain.TaxonCondition{
		Scope:   domain.ScopeCustom,
		Include: []int64{testkit.OrgEcoli},
	}
	assert.True(t, e.ConditionApplies(cond, env.Catalog.Organisms[testkit.OrgEcoli]))
	// Custom scope requires explicit membership; group affinity is not enough.
	assert.False(t, e.ConditionApplies(cond, env.Catalog.Organisms[testkit.OrgKpneumoniae]))
}

func TestConditionExclusionCrossesLevels(t *testing.T) {
	e, env := newEngine(t)

	// An exclude member vetoes organisms of its genus even when the include
	// matched first; exclusion is never scope-restricted.
	klebsiellaOxytoca := &domain.Organism{
		ID: 99, Name: "Klebsiella oxytoca",
		Family: "Enterobacteriaceae", Genus: "Klebsiella", Species: "Klebsiella oxytoca",
		GroupID: testkit.GroupEnterobacterales,
	}
	env.Catalog.Organisms[99] = klebsiellaOxytoca

	cond := &domain.TaxonCondition{
		Scope:   domain.ScopeGroup,
		Include: []int64{testkit.OrgEcoli},
		Exclude: []int64{testkit.OrgKpneumoniae},
	}
	assert.False(t, e.ConditionApplies(cond, klebsiellaOxytoca))
	assert.True(t, e.ConditionApplies(cond, env.Catalog.Organisms[testkit.OrgEcoli]))
}

func TestRuleAppliesVersionAndCategory(t *testing.T) {
	e, env := newEngine(t)
	org := env.Catalog.Organisms[testkit.OrgEcoli]
	urine := env.Tenant.SampleTypes[0]
	blood := env.Tenant.SampleTypes[1]

	v2024 := testkit.VersionID2024
	in := Input{
		AntibioticID: testkit.AbAmoxClavUTI,
		Organism:     org,
		GroupID:      org.GroupID,
		SampleType:   urine,
		VersionID:    &v2024,
	}

	rules := e.ApplicableRules(in)
	require.Len(t, rules, 1)
	assert.Equal(t, int64(1), rules[0].ID)

	// The urinary rule does not cover blood samples.
	in.SampleType = blood
	assert.Empty(t, e.ApplicableRules(in))

	// And the 2023 edition has its own rule.
	v2023 := testkit.VersionID2023
	in.SampleType = urine
	in.VersionID = &v2023
	rules = e.ApplicableRules(in)
	require.Len(t, rules, 1)
	assert.Equal(t, int64(3), rules[0].ID)
}

func TestRuleAgeBounds(t *testing.T) {
	e, env := newEngine(t)
	org := env.Catalog.Organisms[testkit.OrgEcoli]

	rule := &domain.BreakpointRule{
		AntibioticID: testkit.AbCiprofloxacin,
		AgeMin:       testkit.Ptr(18.0),
		VersionID:    testkit.VersionID2024,
	}

	in := Input{AntibioticID: testkit.AbCiprofloxacin, Organism: org, GroupID: org.GroupID}
	assert.False(t, e.Applies(rule, in), "missing age fails a bounded rule")

	in.Age = testkit.Ptr(40.0)
	assert.True(t, e.Applies(rule, in))

	in.Age = testkit.Ptr(10.0)
	assert.False(t, e.Applies(rule, in))
}

func TestInterpretNeverPanics(t *testing.T) {
	rules := []*domain.BreakpointRule{
		{},
		{SMicMax: testkit.Ptr(1.0)},
		{RMicMin: testkit.Ptr(1.0)},
		{SHaloMin: testkit.Ptr(20.0)},
		{RHaloMax: testkit.Ptr(15.0)},
	}
	vals := []*float64{nil, testkit.Ptr(0.5), testkit.Ptr(100.0)}
	for _, r := range rules {
		for _, mic := range vals {
			for _, halo := range vals {
				got := Interpret(r, mic, halo)
				assert.True(t, got.IsValid())
				assert.NotEqual(t, domain.NA, got)
			}
		}
	}
}
