package heal

import (
	"log"
	"sort"

	"github.com/orian/sqlmedic/models"
)

// ApplyOptions controls which candidate fixes the applier will attempt.
type ApplyOptions struct {
	// MinConfidence is the confidence floor; fixes below it are skipped.
	MinConfidence float64

	// AggressiveMode extends the safety gate from safe/low to include
	// medium and high tiers. review-required is never auto-applied.
	AggressiveMode bool
}

// FixApplier mechanically applies deterministic fix transformations to
// query text in priority order. It performs no judgment beyond the
// confidence and safety gates; validation is the Validator's job.
type FixApplier struct {
	transformer RuleTransformer
}

// NewFixApplier returns an applier backed by the built-in transforms.
func NewFixApplier() *FixApplier {
	return &FixApplier{}
}

// Apply attempts the candidate fixes against text in descending
// estimated-impact order and returns the rewritten text plus one
// AppliedFix record per candidate. Fixes that are gated out, have no
// deterministic transform, or whose transform leaves the text unchanged
// are recorded as not applied.
func (a *FixApplier) Apply(text string, fixes []models.Fix, opts ApplyOptions) (string, []models.AppliedFix) {
	ordered := make([]models.Fix, len(fixes))
	copy(ordered, fixes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EstimatedImpact > ordered[j].EstimatedImpact
	})

	current := text
	applied := make([]models.AppliedFix, 0, len(ordered))
	for _, fix := range ordered {
		record := models.AppliedFix{Fix: fix}

		switch {
		case fix.Confidence < opts.MinConfidence:
			record.SkipReason = "confidence below threshold"
		case !safetyAllowed(fix.Safety, opts.AggressiveMode):
			record.SkipReason = "safety tier exceeds risk tolerance"
		case !a.transformer.HasTransform(fix.Type):
			record.SkipReason = "no deterministic transform"
		default:
			rewritten, changed := a.transformer.Transform(current, fix.Type)
			if !changed {
				record.SkipReason = "transform did not change query text"
				log.Printf("Fix %s not applied: pattern no longer present or rewrite not constructible", fix.Type)
				break
			}
			record.Applied = true
			record.OldFragment, record.NewFragment = textDelta(current, rewritten)
			current = rewritten
		}

		applied = append(applied, record)
	}

	return current, applied
}

// safetyAllowed reports whether a fix's safety tier is within the
// caller's risk tolerance.
func safetyAllowed(tier models.SafetyTier, aggressive bool) bool {
	switch tier {
	case models.SafetySafe, models.SafetyLow:
		return true
	case models.SafetyMedium, models.SafetyHigh:
		return aggressive
	}
	return false
}

// textDelta extracts the changed region of before/after by trimming the
// common prefix and suffix. Good enough for single-region rewrites; a
// multi-region rewrite yields one spanning delta.
func textDelta(before, after string) (string, string) {
	start := 0
	for start < len(before) && start < len(after) && before[start] == after[start] {
		start++
	}
	endB, endA := len(before), len(after)
	for endB > start && endA > start && before[endB-1] == after[endA-1] {
		endB--
		endA--
	}
	return before[start:endB], after[start:endA]
}
