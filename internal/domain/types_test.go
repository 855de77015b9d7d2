package domain_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-cbt/internal/domain"
)

func TestParseTechnique(t *testing.T) {
	tests := []struct {
		in   string
		want domain.Technique
		ok   bool
	}{
		{"Reflection", domain.TechniqueReflection, true},
		{"  Questioning ", domain.TechniqueQuestioning, true},
		{"Providing solutions", domain.TechniqueProvidingSolutions, true},
		{"ProvidingSolutions", domain.TechniqueProvidingSolutions, true},
		{"Psycho-education", domain.TechniquePsychoEducation, true},
		{"PsychoEducation", domain.TechniquePsychoEducation, true},
		{"reflection", domain.TechniqueUnknown, false},
		{"Foo", domain.TechniqueUnknown, false},
		{"", domain.TechniqueUnknown, false},
	}

	for _, tc := range tests {
		got, ok := domain.ParseTechnique(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestTechniqueOrder(t *testing.T) {
	for i, tech := range domain.AllTechniques {
		assert.Equal(t, i, tech.Order())
	}
	assert.Equal(t, -1, domain.TechniqueUnknown.Order())
	assert.Equal(t, "Unknown", domain.TechniqueUnknown.String())
}

func validProfile() domain.ClientProfile {
	return domain.ClientProfile{
		Age:                 29,
		Gender:              "female",
		Mood:                "anxious",
		Diagnosis:           "generalized anxiety",
		History:             "no prior counseling",
		ReasonForCounseling: "work stress",
	}
}

func TestClientProfileValidate(t *testing.T) {
	require.NoError(t, validProfile().Validate())

	tests := []struct {
		name   string
		mutate func(*domain.ClientProfile)
		field  string
	}{
		{"age zero", func(p *domain.ClientProfile) { p.Age = 0 }, "age"},
		{"age too high", func(p *domain.ClientProfile) { p.Age = 121 }, "age"},
		{"blank mood", func(p *domain.ClientProfile) { p.Mood = "  " }, "mood"},
		{"missing diagnosis", func(p *domain.ClientProfile) { p.Diagnosis = "" }, "diagnosis"},
		{"missing reason", func(p *domain.ClientProfile) { p.ReasonForCounseling = "" }, "reason_for_counseling"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := validProfile()
			tc.mutate(&p)

			err := p.Validate()
			require.Error(t, err)
			require.True(t, domain.IsValidation(err))

			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestClientProfileContext(t *testing.T) {
	p := validProfile()
	p.AdditionalNotes = "prefers short sessions"

	ctx := p.Context()
	assert.Contains(t, ctx, "Age: 29")
	assert.Contains(t, ctx, "Diagnosis: generalized anxiety")
	assert.Contains(t, ctx, "Additional Notes: prefers short sessions")
}

func TestValidateMessage(t *testing.T) {
	require.NoError(t, domain.ValidateMessage("hello", 3000))
	require.NoError(t, domain.ValidateMessage(strings.Repeat("é", 3000), 3000))

	err := domain.ValidateMessage(" \n\t", 3000)
	require.True(t, domain.IsValidation(err))

	err = domain.ValidateMessage(strings.Repeat("a", 3001), 3000)
	require.True(t, domain.IsValidation(err))
	assert.Contains(t, err.Error(), "too long")

	err = domain.ValidateMessage("I feel \xff bad", 3000)
	require.True(t, domain.IsValidation(err))
	assert.Contains(t, err.Error(), "UTF-8")
}

func TestCrisisResult(t *testing.T) {
	assert.False(t, domain.CrisisResult{}.IsCrisis())
	assert.False(t, domain.CrisisResult{Flags: []string{"Self-Harm"}}.IsCrisis())
	assert.False(t, domain.CrisisResult{Response: "please call"}.IsCrisis())
	assert.False(t, domain.CrisisResult{Flags: []string{"  "}, Response: "please call"}.IsCrisis())
	assert.True(t, domain.CrisisResult{Flags: []string{"Self-Harm"}, Response: "please call"}.IsCrisis())

	n := domain.CrisisResult{Flags: []string{" Self-Harm ", ""}, Response: " hi "}.Normalized()
	assert.Equal(t, []string{"Self-Harm"}, n.Flags)
	assert.Equal(t, "hi", n.Response)
}

func TestAboveThreshold(t *testing.T) {
	in := []domain.RetrievalResult{{Text: "a", Score: 0.49}, {Text: "b", Score: 0.5}, {Text: "c", Score: 0.9}}
	out := domain.AboveThreshold(in, 0.5)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Text)
}
