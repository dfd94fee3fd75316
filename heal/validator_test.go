package heal

import (
	"context"
	"errors"
	"testing"

	"github.com/orian/sqlmedic/models"
	"github.com/stretchr/testify/assert"
)

type fakeAdvisor struct {
	opinion *AdvisoryOpinion
	err     error
	calls   int
}

func (f *fakeAdvisor) CompareQueries(ctx context.Context, original, rewritten string) (*AdvisoryOpinion, error) {
	f.calls++
	return f.opinion, f.err
}

type fakePlans struct {
	cmp *PlanComparison
	err error
}

func (f *fakePlans) CompareEstimates(ctx context.Context, original, rewritten string) (*PlanComparison, error) {
	return f.cmp, f.err
}

func appliedFixes(impacts ...int) []models.AppliedFix {
	out := make([]models.AppliedFix, 0, len(impacts))
	for _, impact := range impacts {
		out = append(out, models.AppliedFix{
			Fix:     models.Fix{Type: models.FixOrToIn, EstimatedImpact: impact},
			Applied: true,
		})
	}
	return out
}

func TestEstimateImprovement(t *testing.T) {
	tests := []struct {
		name    string
		applied []models.AppliedFix
		want    float64
	}{
		{
			name: "no fixes",
			want: 0,
		},
		{
			name: "skipped fixes do not count",
			applied: []models.AppliedFix{
				{Fix: models.Fix{EstimatedImpact: 65}, SkipReason: "confidence below threshold"},
			},
			want: 0,
		},
		{
			name:    "single fix counts in full",
			applied: appliedFixes(65),
			want:    65,
		},
		{
			name:    "second fix counts at half weight",
			applied: appliedFixes(65, 30),
			want:    80,
		},
		{
			name:    "capped at 95",
			applied: appliedFixes(90, 70, 60),
			want:    95,
		},
		{
			name:    "equal impacts",
			applied: appliedFixes(40, 40),
			want:    60,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateImprovement(tt.applied))
		})
	}
}

func TestValidateStructuralChecks(t *testing.T) {
	tests := []struct {
		name      string
		rewritten string
		wantValid bool
	}{
		{
			name:      "well-formed select",
			rewritten: "SELECT ID FROM T WHERE A IN (1, 2)",
			wantValid: true,
		},
		{
			name:      "empty text",
			rewritten: "   ",
			wantValid: false,
		},
		{
			name:      "no query verb",
			rewritten: "DROP TABLE USERS",
			wantValid: false,
		},
		{
			name:      "unbalanced parentheses",
			rewritten: "SELECT ID FROM T WHERE A IN (1, 2",
			wantValid: false,
		},
		{
			name:      "cte verb",
			rewritten: "WITH X AS (SELECT 1) SELECT * FROM X",
			wantValid: true,
		},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(context.Background(), "SELECT 1", tt.rewritten, models.QueryMetrics{}, appliedFixes(30), ValidateOptions{})
			assert.Equal(t, tt.wantValid, verdict.IsValid)
			if !tt.wantValid {
				assert.False(t, verdict.IsBetter)
				assert.NotEmpty(t, verdict.Errors)
			}
		})
	}
}

func TestValidateDuplicatedKeywordIsWarningOnly(t *testing.T) {
	v := NewValidator()
	verdict := v.Validate(context.Background(), "SELECT 1", "SELECT ID FROM T WHERE WHERE A = 1", models.QueryMetrics{}, appliedFixes(30), ValidateOptions{})

	assert.True(t, verdict.IsValid)
	assert.Contains(t, verdict.Warnings, "duplicated clause keyword: WHERE WHERE")
}

func TestValidateRecommendationBands(t *testing.T) {
	tests := []struct {
		name       string
		applied    []models.AppliedFix
		want       models.Recommendation
		wantReason string
		wantBetter bool
	}{
		{
			name:       "no improvement",
			applied:    nil,
			want:       models.RecommendRollback,
			wantReason: "no projected improvement",
			wantBetter: false,
		},
		{
			name:       "marginal improvement",
			applied:    appliedFixes(5),
			want:       models.RecommendMonitor,
			wantReason: "marginal improvement, monitor before trusting",
			wantBetter: true,
		},
		{
			name:       "moderate improvement",
			applied:    appliedFixes(15),
			want:       models.RecommendKeep,
			wantReason: "moderate improvement",
			wantBetter: true,
		},
		{
			name:       "significant improvement",
			applied:    appliedFixes(30),
			want:       models.RecommendKeep,
			wantReason: "significant improvement",
			wantBetter: true,
		},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(context.Background(), "SELECT 1", "SELECT ID FROM T", models.QueryMetrics{}, tt.applied, ValidateOptions{})
			assert.Equal(t, tt.want, verdict.Recommendation)
			assert.Equal(t, tt.wantReason, verdict.Reason)
			assert.Equal(t, tt.wantBetter, verdict.IsBetter)
		})
	}
}

func TestValidatePredictedLatency(t *testing.T) {
	v := NewValidator()
	verdict := v.Validate(context.Background(), "SELECT 1", "SELECT ID FROM T",
		models.QueryMetrics{AvgElapsedTimeMs: 1000}, appliedFixes(30), ValidateOptions{})

	assert.Equal(t, 30.0, verdict.ImprovementPercent)
	assert.InDelta(t, 700.0, verdict.PredictedLatencyMs, 0.001)
}

func TestValidatePolicyThresholdWarning(t *testing.T) {
	v := NewValidator()
	verdict := v.Validate(context.Background(), "SELECT 1", "SELECT ID FROM T",
		models.QueryMetrics{}, appliedFixes(5), ValidateOptions{MinImprovementPercent: 10})

	assert.True(t, verdict.IsBetter)
	assert.Len(t, verdict.Warnings, 1)
	assert.Contains(t, verdict.Warnings[0], "below the 10.0% policy minimum")
}

func TestValidateAdvisorFailureFallsBack(t *testing.T) {
	advisor := &fakeAdvisor{err: errors.New("connection refused")}
	v := NewValidator()
	v.Advisor = advisor

	verdict := v.Validate(context.Background(), "SELECT ID FROM T WHERE A = 1 OR A = 2",
		"SELECT ID FROM T WHERE A IN (1, 2)", models.QueryMetrics{}, appliedFixes(30), ValidateOptions{})

	assert.Equal(t, 1, advisor.calls)
	assert.Equal(t, models.MethodRuleBased, verdict.Method)
	assert.Contains(t, verdict.Warnings, "AI validation unavailable, using rule-based only")
	assert.True(t, verdict.IsSemanticallyEquivalent)
	assert.True(t, verdict.IsBetter)
}

func TestValidateAdvisorFlagsNonEquivalence(t *testing.T) {
	advisor := &fakeAdvisor{opinion: &AdvisoryOpinion{
		Equivalent:  false,
		Confidence:  0.9,
		Explanation: "NOT IN and NOT EXISTS differ on NULLs",
	}}
	v := NewValidator()
	v.Advisor = advisor

	verdict := v.Validate(context.Background(), "SELECT 1", "SELECT 2", models.QueryMetrics{}, appliedFixes(30), ValidateOptions{})

	assert.Equal(t, models.MethodAdvisoryEnriched, verdict.Method)
	assert.False(t, verdict.IsSemanticallyEquivalent)
	assert.Contains(t, verdict.Warnings, "NOT IN and NOT EXISTS differ on NULLs")
}

func TestValidateAdvisorSkippedWhenUnchanged(t *testing.T) {
	advisor := &fakeAdvisor{opinion: &AdvisoryOpinion{Equivalent: true}}
	v := NewValidator()
	v.Advisor = advisor

	text := "SELECT ID FROM T"
	v.Validate(context.Background(), text, text, models.QueryMetrics{}, nil, ValidateOptions{})

	assert.Equal(t, 0, advisor.calls)
}

func TestValidateAdvisorSkippedWhenInvalid(t *testing.T) {
	advisor := &fakeAdvisor{opinion: &AdvisoryOpinion{Equivalent: true}}
	v := NewValidator()
	v.Advisor = advisor

	v.Validate(context.Background(), "SELECT 1", "SELECT ID FROM T WHERE (", models.QueryMetrics{}, appliedFixes(30), ValidateOptions{})

	assert.Equal(t, 0, advisor.calls)
}

func TestValidatePlanComparison(t *testing.T) {
	tests := []struct {
		name        string
		plans       *fakePlans
		wantPassed  bool
		wantWarning bool
	}{
		{
			name:       "rewrite scans fewer rows",
			plans:      &fakePlans{cmp: &PlanComparison{OriginalRows: 1000, RewrittenRows: 100}},
			wantPassed: true,
		},
		{
			name:        "rewrite scans more rows",
			plans:       &fakePlans{cmp: &PlanComparison{OriginalRows: 100, RewrittenRows: 1000}},
			wantPassed:  false,
			wantWarning: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			v.Plans = tt.plans

			verdict := v.Validate(context.Background(), "SELECT 1", "SELECT 2", models.QueryMetrics{}, appliedFixes(30), ValidateOptions{})

			var check *models.ValidationCheck
			for i := range verdict.Checks {
				if verdict.Checks[i].Name == "plan-estimate" {
					check = &verdict.Checks[i]
				}
			}
			assert.NotNil(t, check)
			assert.Equal(t, tt.wantPassed, check.Passed)
			if tt.wantWarning {
				assert.NotEmpty(t, verdict.Warnings)
			}
		})
	}
}

func TestValidatePlanComparisonFailureIsNonFatal(t *testing.T) {
	v := NewValidator()
	v.Plans = &fakePlans{err: errors.New("explain failed")}

	verdict := v.Validate(context.Background(), "SELECT 1", "SELECT 2", models.QueryMetrics{}, appliedFixes(30), ValidateOptions{})

	assert.True(t, verdict.IsValid)
	assert.True(t, verdict.IsBetter)
	assert.Contains(t, verdict.Warnings, "plan comparison unavailable")
}
