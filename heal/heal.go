// Package heal implements the rule-based SQL anti-pattern detection and
// self-healing rewrite pipeline: pattern detection over raw query text and
// runtime metrics, fix generation, deterministic text transformation,
// heuristic validation, and the orchestrated apply/validate/rollback
// protocol with per-hash healing history.
//
// Detection and rewriting operate on raw text via pattern rules, not an
// AST. The Detector and Transformer interfaces isolate that choice so a
// parser-backed implementation could be swapped in without touching the
// orchestrator's state machine.
package heal

import (
	"context"

	"github.com/orian/sqlmedic/models"
)

// Detector scans a query's text and metrics for known anti-patterns and
// returns findings ordered by estimated impact, highest first.
// Implementations must be pure functions of their inputs.
type Detector interface {
	Detect(query models.Query, advisories []models.IndexAdvisory) []models.Finding
}

// Transformer applies the deterministic text transformation for a fix
// type. The bool result reports whether the text actually changed;
// an unchanged result means the fix was inapplicable.
type Transformer interface {
	Transform(text string, fixType models.FixType) (string, bool)
}

// AdvisoryOpinion is the external advisory collaborator's best-effort
// judgment on whether a rewrite preserves query semantics.
type AdvisoryOpinion struct {
	Equivalent  bool    `json:"equivalent"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation,omitempty"`
}

// SemanticAdvisor is the optional external collaborator consulted by the
// Validator for a semantic-equivalence opinion. It is advisory only:
// failures and timeouts degrade to rule-based validation and must never
// block the pipeline.
type SemanticAdvisor interface {
	CompareQueries(ctx context.Context, original, rewritten string) (*AdvisoryOpinion, error)
}

// PlanComparison reports estimated scan volumes for the original and
// rewritten text, as produced by an external plan-comparison collaborator.
type PlanComparison struct {
	OriginalRows  uint64 `json:"originalRows"`
	RewrittenRows uint64 `json:"rewrittenRows"`
	Detail        string `json:"detail,omitempty"`
}

// PlanComparer is the optional plan-comparison collaborator. Like the
// semantic advisor, its unavailability never fails validation.
type PlanComparer interface {
	CompareEstimates(ctx context.Context, original, rewritten string) (*PlanComparison, error)
}

// TelemetrySource supplies missing-index advisories for the tables a
// query references. Used by the orchestrator to feed the detector's
// index-advisory rule; optional.
type TelemetrySource interface {
	MissingIndexAdvisories(ctx context.Context, query models.Query) ([]models.IndexAdvisory, error)
}
