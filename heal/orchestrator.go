package heal

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orian/sqlmedic/models"
)

// Orchestrator is the top-level state machine: it runs detection, fix
// generation, application, and validation for one query, decides the
// terminal status, and persists the outcome into per-hash healing
// history. Runs for different hashes proceed in parallel; runs for the
// same hash serialize on a per-key lock.
type Orchestrator struct {
	// Detector, Generator, Applier, and Validator are the pipeline
	// stages. The constructor installs the rule-based defaults; any of
	// them can be replaced before first use.
	Detector  Detector
	Generator *FixGenerator
	Applier   *FixApplier
	Validator *Validator

	// Telemetry optionally supplies missing-index advisories for the
	// detector's index-advisory rule.
	Telemetry TelemetrySource

	store models.HistoryStore
	locks keyedMutex
}

// NewOrchestrator returns an orchestrator with the rule-based pipeline
// and the given history store.
func NewOrchestrator(store models.HistoryStore) *Orchestrator {
	return &Orchestrator{
		Detector:  NewPatternDetector(),
		Generator: NewFixGenerator(),
		Applier:   NewFixApplier(),
		Validator: NewValidator(),
		store:     store,
	}
}

// DetectFindings runs detection only, including the index-advisory rule
// when telemetry is available. Preview operation; no state changes.
func (o *Orchestrator) DetectFindings(ctx context.Context, query models.Query) []models.Finding {
	return o.Detector.Detect(query, o.fetchAdvisories(ctx, query))
}

// GenerateFixes runs detection and fix generation only. Preview
// operation; no state changes.
func (o *Orchestrator) GenerateFixes(ctx context.Context, query models.Query) []models.Fix {
	return o.Generator.Generate(o.DetectFindings(ctx, query))
}

// ApplyFixes exposes the mechanical fix application step.
func (o *Orchestrator) ApplyFixes(text string, fixes []models.Fix, opts ApplyOptions) (string, []models.AppliedFix) {
	return o.Applier.Apply(text, fixes, opts)
}

// Validate exposes the validation step.
func (o *Orchestrator) Validate(ctx context.Context, original, rewritten string, metrics models.QueryMetrics, applied []models.AppliedFix, opts ValidateOptions) *models.ValidationVerdict {
	return o.Validator.Validate(ctx, original, rewritten, metrics, applied, opts)
}

// Heal runs the full pipeline for one query under the given policy and
// records the outcome. Any unexpected fault is caught at this boundary
// and mapped to an Error result; the pipeline is not retried.
func (o *Orchestrator) Heal(ctx context.Context, query models.Query, policy models.HealingPolicy) (result *models.HealingResult) {
	if query.Hash == "" {
		query.Hash = models.HashQuery(query.Text)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Healing pipeline panic for %s: %v", query.Hash, r)
			result = o.terminal(query, models.StatusError, fmt.Sprintf("unexpected fault: %v", r), nil, nil, 0)
		}
	}()

	unlock := o.locks.lock(query.Hash)
	defer unlock()

	if !o.store.IsEnabled(query.Hash) {
		return o.terminal(query, models.StatusDisabled, "healing is disabled for this query hash", nil, nil, 0)
	}

	findings := o.Detector.Detect(query, o.fetchAdvisories(ctx, query))
	if len(findings) == 0 {
		return o.terminal(query, models.StatusNoActionNeeded, "no anti-patterns detected", nil, nil, 0)
	}

	fixes := o.Generator.Generate(findings)
	rewritten, applied := o.Applier.Apply(query.Text, fixes, ApplyOptions{MinConfidence: policy.MinConfidence})

	var verdict *models.ValidationVerdict
	improvement := EstimateImprovement(applied)

	if policy.TestBeforeApply {
		verdict = o.Validator.Validate(ctx, query.Text, rewritten, query.Metrics, applied, ValidateOptions{
			MinImprovementPercent: policy.MinImprovementPercent,
			MaxDegradationPercent: policy.MaxDegradationPercent,
		})
		improvement = verdict.ImprovementPercent
		if !verdict.IsBetter {
			msg := "validation rejected the rewrite: " + verdict.Reason
			res := o.terminal(query, models.StatusValidationFailed, msg, applied, verdict, improvement)
			res.HealedQuery = rewritten
			o.record(res, policy)
			return res
		}
	}

	status := models.StatusPendingApproval
	msg := "rewrite prepared, awaiting approval"
	if policy.AutoApply && !policy.RequireApproval {
		status = models.StatusApplied
		msg = fmt.Sprintf("applied %d fix(es), projected improvement %.1f%%", countApplied(applied), improvement)
	}

	res := o.terminal(query, status, msg, applied, verdict, improvement)
	res.HealedQuery = rewritten
	o.record(res, policy)
	return res
}

// Rollback marks the most recent healing for a query hash as rolled
// back. Bookkeeping only: reverting a live change is the embedding
// application's responsibility.
func (o *Orchestrator) Rollback(queryHash string) *models.RollbackResult {
	unlock := o.locks.lock(queryHash)
	defer unlock()

	history, ok := o.store.GetHistory(queryHash)
	if !ok || len(history.Entries) == 0 {
		return &models.RollbackResult{
			QueryHash: queryHash,
			Success:   false,
			Message:   "no healing history found",
		}
	}

	last, _ := history.LastEntry()
	history.Record(models.HistoryEntry{
		ID:              uuid.New().String(),
		Status:          models.StatusRolledBack,
		AppliedFixTypes: last.AppliedFixTypes,
		Message:         fmt.Sprintf("rolled back healing run %s", last.ID),
		Timestamp:       time.Now(),
	}, history.CurrentAvgElapsedMs, false)

	if err := o.store.SaveHistory(history); err != nil {
		return &models.RollbackResult{
			QueryHash: queryHash,
			Success:   false,
			Message:   fmt.Sprintf("failed to persist rollback: %v", err),
		}
	}

	return &models.RollbackResult{
		QueryHash: queryHash,
		Success:   true,
		Message:   "healing rolled back",
	}
}

// GetHistory returns the healing history for a query hash.
func (o *Orchestrator) GetHistory(queryHash string) (*models.HealingHistory, bool) {
	return o.store.GetHistory(queryHash)
}

// SetEnabled toggles automatic healing for a query hash.
func (o *Orchestrator) SetEnabled(queryHash string, enabled bool) error {
	return o.store.SetEnabled(queryHash, enabled)
}

// fetchAdvisories asks the telemetry collaborator for missing-index
// advisories. Failures are logged and treated as an empty result.
func (o *Orchestrator) fetchAdvisories(ctx context.Context, query models.Query) []models.IndexAdvisory {
	if o.Telemetry == nil {
		return nil
	}
	advisories, err := o.Telemetry.MissingIndexAdvisories(ctx, query)
	if err != nil {
		log.Printf("Index advisory lookup failed for %s: %v", query.Hash, err)
		return nil
	}
	return advisories
}

// terminal assembles a HealingResult for a terminal status.
func (o *Orchestrator) terminal(query models.Query, status models.HealingStatus, msg string, applied []models.AppliedFix, verdict *models.ValidationVerdict, improvement float64) *models.HealingResult {
	return &models.HealingResult{
		QueryHash:          query.Hash,
		OriginalQuery:      query.Text,
		HealedQuery:        query.Text,
		OriginalMetrics:    query.Metrics,
		PredictedMetrics:   predictMetrics(query.Metrics, improvement),
		AppliedFixes:       applied,
		ImprovementPercent: improvement,
		ImpactTier:         models.TierForImprovement(improvement),
		Status:             status,
		Message:            msg,
		Verdict:            verdict,
		Timestamp:          time.Now(),
	}
}

// record persists the run into the per-hash history. Disabled and
// no-action runs are not recorded; they change nothing.
func (o *Orchestrator) record(res *models.HealingResult, policy models.HealingPolicy) {
	history, ok := o.store.GetHistory(res.QueryHash)
	if !ok {
		history = models.NewHealingHistory(res.QueryHash)
	}

	var fixTypes []models.FixType
	for _, af := range res.AppliedFixes {
		if af.Applied {
			fixTypes = append(fixTypes, af.Fix.Type)
		}
	}

	history.Record(models.HistoryEntry{
		ID:                 uuid.New().String(),
		Status:             res.Status,
		ImprovementPercent: res.ImprovementPercent,
		AppliedFixTypes:    fixTypes,
		Message:            res.Message,
		Timestamp:          res.Timestamp,
	}, res.OriginalMetrics.AvgElapsedTimeMs, policy.EnableLearning)

	if err := o.store.SaveHistory(history); err != nil {
		log.Printf("Failed to persist healing history for %s: %v", res.QueryHash, err)
	}
}

// predictMetrics projects the metrics snapshot under the estimated
// improvement factor.
func predictMetrics(m models.QueryMetrics, improvementPct float64) models.QueryMetrics {
	factor := 1 - improvementPct/100
	out := m
	out.AvgCpuTimeMs = m.AvgCpuTimeMs * factor
	out.AvgElapsedTimeMs = m.AvgElapsedTimeMs * factor
	out.AvgLogicalReads = m.AvgLogicalReads * factor
	out.AvgPhysicalReads = m.AvgPhysicalReads * factor
	return out
}

func countApplied(applied []models.AppliedFix) int {
	n := 0
	for _, af := range applied {
		if af.Applied {
			n++
		}
	}
	return n
}

// keyedMutex serializes work per key. Locks are retained for the
// process lifetime; the key space is bounded by distinct query hashes.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
