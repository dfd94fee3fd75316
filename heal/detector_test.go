package heal

import (
	"testing"

	"github.com/orian/sqlmedic/models"
	"github.com/stretchr/testify/assert"
)

func findingRules(findings []models.Finding) []models.Rule {
	if len(findings) == 0 {
		return nil
	}
	rules := make([]models.Rule, 0, len(findings))
	for _, f := range findings {
		rules = append(rules, f.Rule)
	}
	return rules
}

func findFinding(findings []models.Finding, rule models.Rule) (models.Finding, bool) {
	for _, f := range findings {
		if f.Rule == rule {
			return f, true
		}
	}
	return models.Finding{}, false
}

func TestDetectTextPatterns(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantRules []models.Rule
	}{
		{
			name:      "clean query",
			query:     "SELECT ID, NAME FROM USERS WHERE ID = 42",
			wantRules: nil,
		},
		{
			name:      "select star",
			query:     "SELECT * FROM USERS",
			wantRules: []models.Rule{models.RuleSelectStar},
		},
		{
			name:      "select top star",
			query:     "SELECT TOP (10) * FROM USERS",
			wantRules: []models.Rule{models.RuleSelectStar},
		},
		{
			name:      "same-column or chain",
			query:     "SELECT ID FROM ORDERS WHERE STATUS = 'A' OR STATUS = 'B' OR STATUS = 'C'",
			wantRules: []models.Rule{models.RuleOrChain},
		},
		{
			name:      "cross-column or",
			query:     "SELECT ID FROM ORDERS WHERE STATUS = 'A' OR REGION = 'EU'",
			wantRules: []models.Rule{models.RuleOrInWhere},
		},
		{
			name:      "function-wrapped column",
			query:     "SELECT ID FROM ORDERS WHERE YEAR(CREATEDDATE) = 2024",
			wantRules: []models.Rule{models.RuleNonSargable},
		},
		{
			name:      "not in",
			query:     "SELECT ID FROM ORDERS WHERE ID NOT IN (SELECT ORDERID FROM RETURNS)",
			wantRules: []models.Rule{models.RuleNotIn},
		},
		{
			name:      "leading wildcard",
			query:     "SELECT ID FROM USERS WHERE NAME LIKE '%smith'",
			wantRules: []models.Rule{models.RuleLeadingWildcard},
		},
		{
			name:      "distinct without join",
			query:     "SELECT DISTINCT CITY FROM USERS",
			wantRules: []models.Rule{models.RuleDistinct},
		},
		{
			name:      "unicode literal comparison",
			query:     "SELECT ID FROM USERS WHERE NAME = N'bob'",
			wantRules: []models.Rule{models.RuleImplicitConversion},
		},
		{
			name:      "subquery in projection",
			query:     "SELECT ID, (SELECT MAX(AMOUNT) FROM ORDERS O WHERE O.USERID = U.ID) FROM USERS U",
			wantRules: []models.Rule{models.RuleSubqueryInSelect},
		},
	}

	d := NewPatternDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := d.Detect(models.Query{Text: tt.query}, nil)
			assert.Equal(t, tt.wantRules, findingRules(findings))
		})
	}
}

func TestDetectSelectStarFinding(t *testing.T) {
	d := NewPatternDetector()
	findings := d.Detect(models.Query{Text: "SELECT * FROM USERS"}, nil)

	assert.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, models.RuleSelectStar, f.Rule)
	assert.Equal(t, models.CategoryQueryRewrite, f.Category)
	assert.Equal(t, models.SeverityWarning, f.Severity)
	assert.Equal(t, 35, f.EstimatedImpact)
	assert.NotEmpty(t, f.Evidence)
}

func TestDetectOrChainEvidence(t *testing.T) {
	d := NewPatternDetector()
	findings := d.Detect(models.Query{
		Text: "SELECT ID FROM ORDERS WHERE STATUS = 'A' OR STATUS = 'B'",
	}, nil)

	f, ok := findFinding(findings, models.RuleOrChain)
	assert.True(t, ok)
	assert.Contains(t, f.Evidence, "STATUS = 'A' OR STATUS = 'B'")
	assert.Contains(t, f.Example, "STATUS IN ('A', 'B')")
}

func TestDetectCastFiresBothRules(t *testing.T) {
	d := NewPatternDetector()
	findings := d.Detect(models.Query{
		Text: "SELECT ID FROM ORDERS WHERE CAST(AMOUNT AS INT) = 5",
	}, nil)

	rules := findingRules(findings)
	assert.Contains(t, rules, models.RuleNonSargable)
	assert.Contains(t, rules, models.RuleImplicitConversion)
}

func TestDetectDistinctWithJoinEscalates(t *testing.T) {
	d := NewPatternDetector()

	plain := d.Detect(models.Query{Text: "SELECT DISTINCT CITY FROM USERS"}, nil)
	joined := d.Detect(models.Query{
		Text: "SELECT DISTINCT U.CITY FROM USERS U JOIN ORDERS O ON O.USERID = U.ID",
	}, nil)

	fPlain, ok := findFinding(plain, models.RuleDistinct)
	assert.True(t, ok)
	fJoined, ok := findFinding(joined, models.RuleDistinct)
	assert.True(t, ok)

	assert.Equal(t, 10, fPlain.EstimatedImpact)
	assert.Equal(t, 40, fJoined.EstimatedImpact)
}

func TestDetectLoadPatterns(t *testing.T) {
	tests := []struct {
		name         string
		metrics      models.QueryMetrics
		wantRule     models.Rule
		wantSeverity models.Severity
		wantImpact   int
	}{
		{
			name:         "cpu above warn",
			metrics:      models.QueryMetrics{AvgCpuTimeMs: 200},
			wantRule:     models.RuleHighCpuTime,
			wantSeverity: models.SeverityWarning,
			wantImpact:   48,
		},
		{
			name:         "cpu above critical",
			metrics:      models.QueryMetrics{AvgCpuTimeMs: 600},
			wantRule:     models.RuleHighCpuTime,
			wantSeverity: models.SeverityCritical,
			wantImpact:   64,
		},
		{
			name:         "elapsed above critical",
			metrics:      models.QueryMetrics{AvgElapsedTimeMs: 6000},
			wantRule:     models.RuleHighElapsedTime,
			wantSeverity: models.SeverityCritical,
			wantImpact:   70,
		},
		{
			name:         "logical reads above critical",
			metrics:      models.QueryMetrics{AvgLogicalReads: 150_000},
			wantRule:     models.RuleHighLogicalReads,
			wantSeverity: models.SeverityCritical,
			wantImpact:   85,
		},
		{
			name:         "physical reads above warn",
			metrics:      models.QueryMetrics{AvgPhysicalReads: 2_000},
			wantRule:     models.RuleHighPhysicalReads,
			wantSeverity: models.SeverityWarning,
			wantImpact:   60,
		},
	}

	d := NewPatternDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := d.Detect(models.Query{Text: "SELECT ID FROM T", Metrics: tt.metrics}, nil)
			f, ok := findFinding(findings, tt.wantRule)
			assert.True(t, ok, "expected rule %s to fire", tt.wantRule)
			assert.Equal(t, tt.wantSeverity, f.Severity)
			assert.Equal(t, tt.wantImpact, f.EstimatedImpact)
		})
	}
}

func TestDetectHotQuery(t *testing.T) {
	d := NewPatternDetector()
	findings := d.Detect(models.Query{
		Text: "SELECT ID FROM T",
		Metrics: models.QueryMetrics{
			ExecutionCount: 5_000,
			AvgCpuTimeMs:   80,
		},
	}, nil)

	f, ok := findFinding(findings, models.RuleHotQuery)
	assert.True(t, ok)
	assert.Equal(t, models.SeverityCritical, f.Severity)
	assert.Equal(t, 95, f.EstimatedImpact)

	// The hot-query rule must outrank everything else.
	assert.Equal(t, models.RuleHotQuery, findings[0].Rule)
}

func TestDetectMissingIndexAdvisories(t *testing.T) {
	d := NewPatternDetector()
	advisories := []models.IndexAdvisory{
		{Table: "dbo.Orders", ImpactScore: 88, EqualityColumns: []string{"CustomerID"}, IncludedColumns: []string{"Amount"}},
		{Table: "dbo.Payments", ImpactScore: 90},
	}

	findings := d.Detect(models.Query{
		Text: "SELECT ID FROM dbo.Orders WHERE CustomerID = 7",
	}, advisories)

	f, ok := findFinding(findings, models.RuleMissingIndex)
	assert.True(t, ok)
	assert.Equal(t, models.CategoryIndexing, f.Category)
	assert.Equal(t, 83, f.EstimatedImpact)
	assert.Contains(t, f.Example, "CREATE INDEX")
	assert.Contains(t, f.Example, "INCLUDE (Amount)")

	// Payments is not referenced by the query text.
	for _, fn := range findings {
		assert.NotContains(t, fn.Evidence, "Payments")
	}
}

func TestDetectOrdersByImpactDescending(t *testing.T) {
	d := NewPatternDetector()
	findings := d.Detect(models.Query{
		Text: "SELECT * FROM ORDERS WHERE YEAR(CREATEDDATE) = 2024 OR STATUS = 'A' OR STATUS = 'B'",
		Metrics: models.QueryMetrics{
			AvgLogicalReads: 50_000,
		},
	}, nil)

	assert.GreaterOrEqual(t, len(findings), 3)
	for i := 1; i < len(findings); i++ {
		assert.GreaterOrEqual(t, findings[i-1].EstimatedImpact, findings[i].EstimatedImpact,
			"findings must be ordered by impact descending")
	}
}
