// Package models defines the core data types for sqlmedic,
// a rule-based SQL anti-pattern detection and self-healing pipeline.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// QueryMetrics is the runtime telemetry snapshot attached to a captured query.
// Averages are per execution, totals cover the whole observation window.
type QueryMetrics struct {
	// ExecutionCount is how many times the query shape was executed.
	ExecutionCount int64 `json:"executionCount"`

	// AvgCpuTimeMs is the average CPU time per execution in milliseconds.
	AvgCpuTimeMs float64 `json:"avgCpuTimeMs"`

	// TotalCpuTimeMs is the cumulative CPU time in milliseconds.
	TotalCpuTimeMs float64 `json:"totalCpuTimeMs"`

	// AvgLogicalReads is the average number of buffer pages read per execution.
	AvgLogicalReads float64 `json:"avgLogicalReads"`

	// AvgPhysicalReads is the average number of pages read from disk per execution.
	AvgPhysicalReads float64 `json:"avgPhysicalReads"`

	// AvgElapsedTimeMs is the average wall-clock latency per execution in milliseconds.
	AvgElapsedTimeMs float64 `json:"avgElapsedTimeMs"`

	// LastExecutionTime is when the query was last observed.
	LastExecutionTime time.Time `json:"lastExecutionTime"`
}

// Query is an immutable captured statement plus its metrics snapshot.
// The pipeline never mutates a Query; rewrites produce new text.
type Query struct {
	// Text is the raw SQL text.
	Text string `json:"text"`

	// Hash is the stable identifying hash of the query shape,
	// used as the key for history and enable/disable state.
	Hash string `json:"hash"`

	// Metrics is the runtime telemetry snapshot for this query.
	Metrics QueryMetrics `json:"metrics"`
}

// HashQuery returns the SHA-256 hex digest of the query text.
func HashQuery(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Category classifies what kind of remediation a finding points at.
type Category string

const (
	CategoryIndexing      Category = "indexing"
	CategoryQueryRewrite  Category = "query-rewrite"
	CategoryCaching       Category = "caching"
	CategoryStatistics    Category = "statistics"
	CategoryConfiguration Category = "configuration"
	CategoryTableDesign   Category = "table-design"
)

// Severity grades how urgent a finding is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rule identifies which detection rule produced a finding. The fix
// generation table is keyed on this, keeping the pattern-to-remedy
// mapping closed and exhaustive-checkable.
type Rule string

const (
	RuleSelectStar         Rule = "select-star"
	RuleHighCpuTime        Rule = "high-cpu-time"
	RuleHighElapsedTime    Rule = "high-elapsed-time"
	RuleHighLogicalReads   Rule = "high-logical-reads"
	RuleHighPhysicalReads  Rule = "high-physical-reads"
	RuleHotQuery           Rule = "hot-query"
	RuleOrChain            Rule = "or-chain"
	RuleOrInWhere          Rule = "or-in-where"
	RuleNonSargable        Rule = "non-sargable-predicate"
	RuleNotIn              Rule = "not-in"
	RuleLeadingWildcard    Rule = "leading-wildcard"
	RuleDistinct           Rule = "distinct"
	RuleImplicitConversion Rule = "implicit-conversion"
	RuleSubqueryInSelect   Rule = "subquery-in-select"
	RuleMissingIndex       Rule = "missing-index"
)

// Finding is a single detected issue in a query's text or metrics.
type Finding struct {
	// Rule is the detection rule that fired.
	Rule Rule `json:"rule"`

	// Category is the remediation area this finding belongs to.
	Category Category `json:"category"`

	// Severity grades the finding.
	Severity Severity `json:"severity"`

	// Title is a short human-readable summary.
	Title string `json:"title"`

	// Description explains the problem and why it hurts.
	Description string `json:"description"`

	// Example optionally shows a corrected form of the construct.
	Example string `json:"example,omitempty"`

	// EstimatedImpact is the 0-100 estimate of how much fixing
	// this finding would help. Findings are ordered by this field.
	EstimatedImpact int `json:"estimatedImpact"`

	// Evidence is the text span (or metric summary) that triggered the rule.
	Evidence string `json:"evidence,omitempty"`
}

// FixType enumerates the closed set of remedies the generator can propose.
type FixType string

const (
	FixSelectStarReplacement FixType = "SelectStarReplacement"
	FixOrToIn                FixType = "OrToIn"
	FixNotInToNotExists      FixType = "NotInToNotExists"
	FixFunctionInWhere       FixType = "FunctionInWhere"
	FixLeadingWildcard       FixType = "LeadingWildcardRemoval"
	FixDistinctReview        FixType = "DistinctReview"
	FixImplicitConversion    FixType = "ImplicitConversionFix"
	FixSubqueryRewrite       FixType = "SubqueryRewrite"
)

// SafetyTier is the qualitative risk classification gating automatic
// application of a fix.
type SafetyTier string

const (
	SafetySafe           SafetyTier = "safe"
	SafetyLow            SafetyTier = "low"
	SafetyMedium         SafetyTier = "medium"
	SafetyHigh           SafetyTier = "high"
	SafetyReviewRequired SafetyTier = "review-required"
)

// Fix is a proposed remedy for a finding.
type Fix struct {
	// Type is the remedy kind.
	Type FixType `json:"type"`

	// Rule is the detection rule the fix was generated from.
	Rule Rule `json:"rule"`

	// Confidence (0-1) reflects how mechanically reliable the
	// transformation is, not how much it would help.
	Confidence float64 `json:"confidence"`

	// EstimatedImpact (0-100) is inherited from the originating finding.
	EstimatedImpact int `json:"estimatedImpact"`

	// Safety gates automatic application. review-required fixes are
	// surfaced for humans and never auto-applied.
	Safety SafetyTier `json:"safety"`

	// Before and After are illustrative snippets, not the exact delta.
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`

	// RequiresValidation marks fixes whose application must be followed
	// by a validation pass before the result is trusted.
	RequiresValidation bool `json:"requiresValidation"`
}

// AppliedFix records the outcome of attempting one fix. Immutable once recorded.
type AppliedFix struct {
	Fix Fix `json:"fix"`

	// Applied is true when the transformation changed the query text.
	Applied bool `json:"applied"`

	// SkipReason explains why the fix was not applied. Empty when Applied.
	SkipReason string `json:"skipReason,omitempty"`

	// OldFragment and NewFragment are the actual text delta recorded at
	// application time. Empty when the fix was not applied.
	OldFragment string `json:"oldFragment,omitempty"`
	NewFragment string `json:"newFragment,omitempty"`
}

// ValidationMethod records which validation path produced a verdict.
type ValidationMethod string

const (
	MethodRuleBased        ValidationMethod = "rule-based"
	MethodAdvisoryEnriched ValidationMethod = "advisory-enriched"
)

// Recommendation is the validator's disposition for a rewrite.
type Recommendation string

const (
	RecommendKeep     Recommendation = "Keep"
	RecommendMonitor  Recommendation = "Monitor"
	RecommendRollback Recommendation = "Rollback"
)

// ValidationCheck is one named structural or heuristic check with its outcome.
type ValidationCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// ValidationVerdict is the combined structural and performance judgment
// for a rewritten query.
type ValidationVerdict struct {
	IsValid                  bool              `json:"isValid"`
	IsSemanticallyEquivalent bool              `json:"isSemanticallyEquivalent"`
	IsBetter                 bool              `json:"isBetter"`
	Checks                   []ValidationCheck `json:"checks"`
	Warnings                 []string          `json:"warnings,omitempty"`
	Errors                   []string          `json:"errors,omitempty"`
	Method                   ValidationMethod  `json:"method"`
	ImprovementPercent       float64           `json:"improvementPercent"`
	PredictedLatencyMs       float64           `json:"predictedLatencyMs"`
	Recommendation           Recommendation    `json:"recommendation"`
	Reason                   string            `json:"reason,omitempty"`
}

// HealingStatus is the terminal state of one orchestration run.
type HealingStatus string

const (
	StatusPendingApproval  HealingStatus = "PendingApproval"
	StatusApplied          HealingStatus = "Applied"
	StatusDisabled         HealingStatus = "Disabled"
	StatusNoActionNeeded   HealingStatus = "NoActionNeeded"
	StatusValidationFailed HealingStatus = "ValidationFailed"
	StatusError            HealingStatus = "Error"
	StatusRolledBack       HealingStatus = "RolledBack"
)

// ImpactTier buckets the aggregate improvement of a healing run.
type ImpactTier string

const (
	TierMinor       ImpactTier = "minor"
	TierModerate    ImpactTier = "moderate"
	TierSignificant ImpactTier = "significant"
	TierMajor       ImpactTier = "major"
)

// TierForImprovement maps an improvement percentage to its impact tier.
func TierForImprovement(pct float64) ImpactTier {
	switch {
	case pct >= 50:
		return TierMajor
	case pct >= 25:
		return TierSignificant
	case pct >= 10:
		return TierModerate
	default:
		return TierMinor
	}
}

// HealingResult is the immutable outcome of one orchestration run.
type HealingResult struct {
	QueryHash          string             `json:"queryHash"`
	OriginalQuery      string             `json:"originalQuery"`
	HealedQuery        string             `json:"healedQuery"`
	OriginalMetrics    QueryMetrics       `json:"originalMetrics"`
	PredictedMetrics   QueryMetrics       `json:"predictedMetrics"`
	AppliedFixes       []AppliedFix       `json:"appliedFixes"`
	ImprovementPercent float64            `json:"improvementPercent"`
	ImpactTier         ImpactTier         `json:"impactTier"`
	Status             HealingStatus      `json:"status"`
	Message            string             `json:"message"`
	Verdict            *ValidationVerdict `json:"verdict,omitempty"`
	Timestamp          time.Time          `json:"timestamp"`
}

// HealingPolicy is the caller-supplied configuration for one healing run.
// Immutable per invocation.
type HealingPolicy struct {
	// AutoApply permits the orchestrator to mark a run Applied without
	// a separate approval step (unless RequireApproval is set).
	AutoApply bool `json:"autoApply"`

	// RequireApproval forces every run with applied fixes into
	// PendingApproval, regardless of AutoApply.
	RequireApproval bool `json:"requireApproval"`

	// AutoRollback requests rollback bookkeeping when a validated
	// rewrite later degrades. Reverting a live change stays with the
	// embedding application.
	AutoRollback bool `json:"autoRollback"`

	// MaxDegradationPercent is the tolerated regression before the
	// validator flags a rewrite for rollback.
	MaxDegradationPercent float64 `json:"maxDegradationPercent"`

	// MinImprovementPercent is the improvement the validator wants to
	// see before calling a rewrite worthwhile.
	MinImprovementPercent float64 `json:"minImprovementPercent"`

	// EnableLearning updates the per-hash successful/failed fix-type
	// sets after each run.
	EnableLearning bool `json:"enableLearning"`

	// TestBeforeApply runs the validator before committing a rewrite.
	TestBeforeApply bool `json:"testBeforeApply"`

	// MinConfidence is the confidence floor passed to the fix applier.
	MinConfidence float64 `json:"minConfidence"`
}

// DefaultHealingPolicy returns the conservative defaults: validate first,
// require a human in the loop, learn from outcomes.
func DefaultHealingPolicy() HealingPolicy {
	return HealingPolicy{
		AutoApply:             false,
		RequireApproval:       true,
		AutoRollback:          true,
		MaxDegradationPercent: 10,
		MinImprovementPercent: 5,
		EnableLearning:        true,
		TestBeforeApply:       true,
		MinConfidence:         0.7,
	}
}

// IndexAdvisory is a missing-index recommendation supplied by the
// telemetry collaborator for tables referenced by a query.
type IndexAdvisory struct {
	Table             string   `json:"table"`
	ImpactScore       float64  `json:"impactScore"`
	EqualityColumns   []string `json:"equalityColumns,omitempty"`
	InequalityColumns []string `json:"inequalityColumns,omitempty"`
	IncludedColumns   []string `json:"includedColumns,omitempty"`
}

// RollbackResult reports the outcome of a rollback request.
type RollbackResult struct {
	QueryHash string `json:"queryHash"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
}
