package heal

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/orian/sqlmedic/models"
)

// DefaultAdvisoryTimeout bounds the optional semantic-advisory call.
const DefaultAdvisoryTimeout = 10 * time.Second

var queryVerbs = map[string]bool{
	"SELECT": true,
	"INSERT": true,
	"UPDATE": true,
	"DELETE": true,
	"WITH":   true,
	"MERGE":  true,
}

var clauseKeywords = map[string]bool{
	"SELECT": true,
	"FROM":   true,
	"WHERE":  true,
	"HAVING": true,
	"AND":    true,
	"OR":     true,
	"JOIN":   true,
	"ON":     true,
	"GROUP":  true,
	"ORDER":  true,
}

// ValidateOptions carries the policy thresholds for a validation pass.
type ValidateOptions struct {
	MinImprovementPercent float64
	MaxDegradationPercent float64
}

// Validator performs structural sanity checks on rewritten text and a
// heuristic performance-equivalence judgment. The external collaborators
// are optional; when absent or failing, validation degrades to the
// rule-based path and never blocks.
type Validator struct {
	// Advisor is the optional semantic-equivalence collaborator.
	Advisor SemanticAdvisor

	// Plans is the optional plan-comparison collaborator.
	Plans PlanComparer

	// AdvisoryTimeout bounds each external call. Zero means
	// DefaultAdvisoryTimeout.
	AdvisoryTimeout time.Duration
}

// NewValidator returns a rule-based-only validator. Collaborators can be
// assigned afterwards.
func NewValidator() *Validator {
	return &Validator{}
}

// EstimateImprovement aggregates the estimated impacts of the applied
// fixes into a projected improvement percentage. The highest-impact fix
// counts in full, each further fix at half weight, capped at 95. This is
// a documented heuristic approximation, not a measurement.
func EstimateImprovement(applied []models.AppliedFix) float64 {
	var impacts []int
	for _, af := range applied {
		if af.Applied {
			impacts = append(impacts, af.Fix.EstimatedImpact)
		}
	}
	if len(impacts) == 0 {
		return 0
	}

	best := 0
	for _, v := range impacts {
		if v > best {
			best = v
		}
	}
	total := float64(best)
	seenBest := false
	for _, v := range impacts {
		if v == best && !seenBest {
			seenBest = true
			continue
		}
		total += float64(v) / 2
	}
	if total > 95 {
		total = 95
	}
	return total
}

// Validate checks the rewritten text structurally and judges whether the
// rewrite is expected to perform better than the original.
func (v *Validator) Validate(ctx context.Context, original, rewritten string, metrics models.QueryMetrics, applied []models.AppliedFix, opts ValidateOptions) *models.ValidationVerdict {
	verdict := &models.ValidationVerdict{
		IsSemanticallyEquivalent: true,
		Method:                   models.MethodRuleBased,
	}

	structuralOK := v.runStructuralChecks(rewritten, verdict)
	verdict.IsValid = structuralOK

	improvement := EstimateImprovement(applied)
	verdict.ImprovementPercent = improvement
	verdict.PredictedLatencyMs = metrics.AvgElapsedTimeMs * (1 - improvement/100)

	switch {
	case improvement >= 20:
		verdict.Recommendation = models.RecommendKeep
		verdict.Reason = "significant improvement"
	case improvement >= 10:
		verdict.Recommendation = models.RecommendKeep
		verdict.Reason = "moderate improvement"
	case improvement > 0:
		verdict.Recommendation = models.RecommendMonitor
		verdict.Reason = "marginal improvement, monitor before trusting"
	default:
		verdict.Recommendation = models.RecommendRollback
		verdict.Reason = "no projected improvement"
	}

	if improvement > 0 && improvement < opts.MinImprovementPercent {
		verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("projected improvement %.1f%% is below the %.1f%% policy minimum", improvement, opts.MinImprovementPercent))
	}
	if improvement < 0 && -improvement > opts.MaxDegradationPercent {
		verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("projected degradation %.1f%% exceeds the %.1f%% policy maximum", -improvement, opts.MaxDegradationPercent))
	}

	verdict.IsBetter = improvement > 0 && structuralOK

	// External collaborators only have something to say when the text
	// actually changed, and a structurally invalid rewrite is rejected
	// without consulting them.
	if structuralOK && rewritten != original {
		v.consultAdvisor(ctx, original, rewritten, verdict)
		v.consultPlans(ctx, original, rewritten, verdict)
	}

	return verdict
}

// runStructuralChecks appends the named checks to the verdict and
// reports whether all hard checks passed. The duplicated-keyword check
// is a warning, not a failure.
func (v *Validator) runStructuralChecks(rewritten string, verdict *models.ValidationVerdict) bool {
	trimmed := strings.TrimSpace(rewritten)

	nonEmpty := trimmed != ""
	verdict.Checks = append(verdict.Checks, models.ValidationCheck{
		Name:   "non-empty",
		Passed: nonEmpty,
	})
	if !nonEmpty {
		verdict.Errors = append(verdict.Errors, "rewritten query is empty")
		return false
	}

	verb := strings.ToUpper(strings.Fields(trimmed)[0])
	verbOK := queryVerbs[verb]
	verdict.Checks = append(verdict.Checks, models.ValidationCheck{
		Name:   "query-verb",
		Passed: verbOK,
		Detail: fmt.Sprintf("leading token %q", verb),
	})
	if !verbOK {
		verdict.Errors = append(verdict.Errors, fmt.Sprintf("no recognizable query verb: %q", verb))
	}

	opens := strings.Count(rewritten, "(")
	closes := strings.Count(rewritten, ")")
	balanced := opens == closes
	verdict.Checks = append(verdict.Checks, models.ValidationCheck{
		Name:   "balanced-parentheses",
		Passed: balanced,
		Detail: fmt.Sprintf("%d open, %d close", opens, closes),
	})
	if !balanced {
		verdict.Errors = append(verdict.Errors, fmt.Sprintf("unbalanced parentheses: %d open vs %d close", opens, closes))
	}

	dupes := duplicatedClauseKeywords(trimmed)
	verdict.Checks = append(verdict.Checks, models.ValidationCheck{
		Name:   "duplicated-keywords",
		Passed: len(dupes) == 0,
		Detail: strings.Join(dupes, ", "),
	})
	for _, d := range dupes {
		verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("duplicated clause keyword: %s", d))
	}

	return verbOK && balanced
}

// duplicatedClauseKeywords reports adjacent repeats of clause keywords,
// e.g. "WHERE WHERE".
func duplicatedClauseKeywords(text string) []string {
	fields := strings.Fields(strings.ToUpper(text))
	var dupes []string
	for i := 1; i < len(fields); i++ {
		if clauseKeywords[fields[i]] && fields[i] == fields[i-1] {
			dupes = append(dupes, fields[i]+" "+fields[i])
		}
	}
	return dupes
}

// consultAdvisor folds the external semantic opinion into the verdict.
// The advisory path can downgrade IsSemanticallyEquivalent; it never
// upgrades a structurally invalid rewrite.
func (v *Validator) consultAdvisor(ctx context.Context, original, rewritten string, verdict *models.ValidationVerdict) {
	if v.Advisor == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, v.advisoryTimeout())
	defer cancel()

	opinion, err := v.Advisor.CompareQueries(ctx, original, rewritten)
	if err != nil {
		log.Printf("Semantic advisory failed: %v", err)
		verdict.Warnings = append(verdict.Warnings, "AI validation unavailable, using rule-based only")
		return
	}

	verdict.Method = models.MethodAdvisoryEnriched
	if !opinion.Equivalent {
		verdict.IsSemanticallyEquivalent = false
		detail := opinion.Explanation
		if detail == "" {
			detail = "advisory collaborator flagged a possible semantic difference"
		}
		verdict.Warnings = append(verdict.Warnings, detail)
	}
}

// consultPlans folds the plan-comparison estimate into the verdict as a
// named, non-fatal check.
func (v *Validator) consultPlans(ctx context.Context, original, rewritten string, verdict *models.ValidationVerdict) {
	if v.Plans == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, v.advisoryTimeout())
	defer cancel()

	cmp, err := v.Plans.CompareEstimates(ctx, original, rewritten)
	if err != nil {
		log.Printf("Plan comparison failed: %v", err)
		verdict.Warnings = append(verdict.Warnings, "plan comparison unavailable")
		return
	}

	verdict.Checks = append(verdict.Checks, models.ValidationCheck{
		Name:   "plan-estimate",
		Passed: cmp.RewrittenRows <= cmp.OriginalRows,
		Detail: fmt.Sprintf("estimated rows %d -> %d", cmp.OriginalRows, cmp.RewrittenRows),
	})
	if cmp.RewrittenRows > cmp.OriginalRows {
		verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("rewritten plan scans more rows (%d vs %d)", cmp.RewrittenRows, cmp.OriginalRows))
	}
}

func (v *Validator) advisoryTimeout() time.Duration {
	if v.AdvisoryTimeout > 0 {
		return v.AdvisoryTimeout
	}
	return DefaultAdvisoryTimeout
}
