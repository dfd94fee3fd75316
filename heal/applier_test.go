package heal

import (
	"testing"

	"github.com/orian/sqlmedic/models"
	"github.com/stretchr/testify/assert"
)

func orToInFix(impact int) models.Fix {
	return models.Fix{
		Type:            models.FixOrToIn,
		Rule:            models.RuleOrChain,
		Confidence:      0.85,
		EstimatedImpact: impact,
		Safety:          models.SafetySafe,
	}
}

func functionInWhereFix(impact int) models.Fix {
	return models.Fix{
		Type:            models.FixFunctionInWhere,
		Rule:            models.RuleNonSargable,
		Confidence:      0.8,
		EstimatedImpact: impact,
		Safety:          models.SafetyLow,
	}
}

func TestApplyRewritesOrChain(t *testing.T) {
	a := NewFixApplier()

	text := "SELECT ID FROM ORDERS WHERE STATUS = 'A' OR STATUS = 'B'"
	rewritten, applied := a.Apply(text, []models.Fix{orToInFix(30)}, ApplyOptions{MinConfidence: 0.7})

	assert.Equal(t, "SELECT ID FROM ORDERS WHERE STATUS IN ('A', 'B')", rewritten)
	assert.Len(t, applied, 1)
	assert.True(t, applied[0].Applied)
	assert.Empty(t, applied[0].SkipReason)
	assert.Contains(t, applied[0].OldFragment, "OR")
	assert.Contains(t, applied[0].NewFragment, "IN")
}

func TestApplyGates(t *testing.T) {
	tests := []struct {
		name           string
		fix            models.Fix
		opts           ApplyOptions
		wantApplied    bool
		wantSkipReason string
	}{
		{
			name: "confidence below floor",
			fix: models.Fix{
				Type:       models.FixOrToIn,
				Confidence: 0.5,
				Safety:     models.SafetySafe,
			},
			opts:           ApplyOptions{MinConfidence: 0.7},
			wantSkipReason: "confidence below threshold",
		},
		{
			name: "review-required is never auto-applied",
			fix: models.Fix{
				Type:       models.FixSelectStarReplacement,
				Confidence: 0.9,
				Safety:     models.SafetyReviewRequired,
			},
			opts:           ApplyOptions{AggressiveMode: true},
			wantSkipReason: "safety tier exceeds risk tolerance",
		},
		{
			name: "medium tier needs aggressive mode",
			fix: models.Fix{
				Type:       models.FixImplicitConversion,
				Confidence: 0.9,
				Safety:     models.SafetyMedium,
			},
			wantSkipReason: "safety tier exceeds risk tolerance",
		},
		{
			name: "no deterministic transform",
			fix: models.Fix{
				Type:       models.FixLeadingWildcard,
				Confidence: 0.9,
				Safety:     models.SafetySafe,
			},
			wantSkipReason: "no deterministic transform",
		},
		{
			name: "registered no-op transform",
			fix: models.Fix{
				Type:       models.FixNotInToNotExists,
				Confidence: 0.9,
				Safety:     models.SafetyHigh,
			},
			opts:           ApplyOptions{AggressiveMode: true},
			wantSkipReason: "transform did not change query text",
		},
		{
			name:        "safe fix passes",
			fix:         orToInFix(30),
			opts:        ApplyOptions{MinConfidence: 0.7},
			wantApplied: true,
		},
	}

	a := NewFixApplier()
	text := "SELECT ID FROM ORDERS WHERE STATUS = 'A' OR STATUS = 'B'"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, applied := a.Apply(text, []models.Fix{tt.fix}, tt.opts)

			assert.Len(t, applied, 1)
			assert.Equal(t, tt.wantApplied, applied[0].Applied)
			assert.Equal(t, tt.wantSkipReason, applied[0].SkipReason)
		})
	}
}

func TestApplyHighTierWithAggressiveMode(t *testing.T) {
	a := NewFixApplier()

	fix := orToInFix(30)
	fix.Safety = models.SafetyHigh

	text := "SELECT ID FROM T WHERE A = 1 OR A = 2"

	_, applied := a.Apply(text, []models.Fix{fix}, ApplyOptions{})
	assert.False(t, applied[0].Applied)

	_, applied = a.Apply(text, []models.Fix{fix}, ApplyOptions{AggressiveMode: true})
	assert.True(t, applied[0].Applied)
}

func TestApplyOrdersByImpact(t *testing.T) {
	a := NewFixApplier()

	text := "SELECT ID FROM ORDERS WHERE YEAR(CREATEDDATE) = 2024 AND (STATUS = 'A' OR STATUS = 'B')"
	fixes := []models.Fix{orToInFix(30), functionInWhereFix(65)}

	rewritten, applied := a.Apply(text, fixes, ApplyOptions{MinConfidence: 0.7})

	// Higher impact first, both applied, rewrites compose.
	assert.Len(t, applied, 2)
	assert.Equal(t, models.FixFunctionInWhere, applied[0].Fix.Type)
	assert.Equal(t, models.FixOrToIn, applied[1].Fix.Type)
	assert.True(t, applied[0].Applied)
	assert.True(t, applied[1].Applied)

	assert.Equal(t, "SELECT ID FROM ORDERS WHERE CREATEDDATE >= '2024-01-01' AND CREATEDDATE < '2025-01-01' AND (STATUS IN ('A', 'B'))", rewritten)
}

func TestApplyEmptyFixList(t *testing.T) {
	a := NewFixApplier()

	text := "SELECT ID FROM T"
	rewritten, applied := a.Apply(text, nil, ApplyOptions{})

	assert.Equal(t, text, rewritten)
	assert.Empty(t, applied)
}

func TestTextDelta(t *testing.T) {
	tests := []struct {
		name    string
		before  string
		after   string
		wantOld string
		wantNew string
	}{
		{
			name:    "middle change",
			before:  "WHERE A = 1 OR A = 2 ORDER BY X",
			after:   "WHERE A IN (1, 2) ORDER BY X",
			wantOld: "= 1 OR A = 2",
			wantNew: "IN (1, 2)",
		},
		{
			name:    "identical",
			before:  "SELECT 1",
			after:   "SELECT 1",
			wantOld: "",
			wantNew: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotOld, gotNew := textDelta(tt.before, tt.after)
			assert.Equal(t, tt.wantOld, gotOld)
			assert.Equal(t, tt.wantNew, gotNew)
		})
	}
}
