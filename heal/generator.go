package heal

import (
	"github.com/orian/sqlmedic/models"
)

// fixTemplate is one row of the static rule-to-remedy table.
type fixTemplate struct {
	fixType    models.FixType
	confidence float64
	safety     models.SafetyTier
}

// fixTable maps detection rules to candidate remedies. Rules absent from
// the table (the purely load-based ones) generate no fixes: their
// findings are advisory and have no text remedy.
//
// Confidence reflects how mechanically reliable the transformation is.
// OrToIn is a value-preserving rewrite (0.85, safe); SelectStarReplacement
// needs column knowledge the detector does not have, so it is emitted
// for review only.
var fixTable = map[models.Rule][]fixTemplate{
	models.RuleSelectStar: {
		{models.FixSelectStarReplacement, 0.6, models.SafetyReviewRequired},
	},
	models.RuleOrChain: {
		{models.FixOrToIn, 0.85, models.SafetySafe},
	},
	models.RuleNonSargable: {
		{models.FixFunctionInWhere, 0.8, models.SafetyLow},
	},
	models.RuleNotIn: {
		{models.FixNotInToNotExists, 0.5, models.SafetyHigh},
	},
	models.RuleLeadingWildcard: {
		{models.FixLeadingWildcard, 0.4, models.SafetyReviewRequired},
	},
	models.RuleDistinct: {
		{models.FixDistinctReview, 0.5, models.SafetyReviewRequired},
	},
	models.RuleImplicitConversion: {
		{models.FixImplicitConversion, 0.55, models.SafetyMedium},
	},
	models.RuleSubqueryInSelect: {
		{models.FixSubqueryRewrite, 0.45, models.SafetyReviewRequired},
	},
}

// FixGenerator maps findings to candidate fixes via the static table.
type FixGenerator struct {
	transformer RuleTransformer
}

// NewFixGenerator returns a generator backed by the built-in rule table.
func NewFixGenerator() *FixGenerator {
	return &FixGenerator{}
}

// Generate returns the candidate fixes for the findings, in finding
// order. A finding can produce zero fixes (load-based findings) or
// several. Fixes without a deterministic transform are still emitted for
// visibility; the applier never auto-applies them.
func (g *FixGenerator) Generate(findings []models.Finding) []models.Fix {
	var fixes []models.Fix

	for _, f := range findings {
		for _, tpl := range fixTable[f.Rule] {
			fix := models.Fix{
				Type:               tpl.fixType,
				Rule:               f.Rule,
				Confidence:         tpl.confidence,
				EstimatedImpact:    f.EstimatedImpact,
				Safety:             tpl.safety,
				Before:             f.Evidence,
				RequiresValidation: true,
			}
			if g.transformer.HasTransform(tpl.fixType) && f.Evidence != "" {
				if after, changed := g.transformer.Transform(f.Evidence, tpl.fixType); changed {
					fix.After = after
				}
			}
			if fix.After == "" {
				fix.After = f.Example
			}
			fixes = append(fixes, fix)
		}
	}
	return fixes
}
