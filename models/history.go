package models

import "time"

// HistoryEntry is one recorded healing run for a query hash.
type HistoryEntry struct {
	// ID is the unique identifier for this entry (UUID).
	ID string `json:"id"`

	// Status is the terminal status the run reached.
	Status HealingStatus `json:"status"`

	// ImprovementPercent is the aggregate improvement the run projected.
	ImprovementPercent float64 `json:"improvementPercent"`

	// AppliedFixTypes lists the fix types actually applied during the run.
	AppliedFixTypes []FixType `json:"appliedFixTypes,omitempty"`

	// Message is the human-readable summary of the run.
	Message string `json:"message,omitempty"`

	// Timestamp is when the run finished.
	Timestamp time.Time `json:"timestamp"`
}

// HealingHistory is the per-query-hash aggregate of healing outcomes.
// It is mutated only by the orchestrator, under per-hash serialization.
type HealingHistory struct {
	// QueryHash keys this history; one instance per distinct query shape.
	QueryHash string `json:"queryHash"`

	TotalRuns      int `json:"totalRuns"`
	SuccessfulRuns int `json:"successfulRuns"`
	FailedRuns     int `json:"failedRuns"`
	RolledBackRuns int `json:"rolledBackRuns"`

	// InitialAvgElapsedMs is the average latency observed on the first run.
	InitialAvgElapsedMs float64 `json:"initialAvgElapsedMs"`

	// CurrentAvgElapsedMs is the latest predicted (or observed) latency.
	CurrentAvgElapsedMs float64 `json:"currentAvgElapsedMs"`

	// CumulativeImprovementPercent sums the projected improvements of
	// successful runs, capped at 95.
	CumulativeImprovementPercent float64 `json:"cumulativeImprovementPercent"`

	// Entries is the ordered run log, oldest first.
	Entries []HistoryEntry `json:"entries"`

	// SuccessfulFixTypes and FailedFixTypes are the learned action-type
	// sets for this query shape.
	SuccessfulFixTypes []FixType `json:"successfulFixTypes,omitempty"`
	FailedFixTypes     []FixType `json:"failedFixTypes,omitempty"`
}

// NewHealingHistory returns an empty history for a query hash.
func NewHealingHistory(hash string) *HealingHistory {
	return &HealingHistory{QueryHash: hash}
}

// Trend summarizes whether healing outcomes for this hash are improving,
// degrading, or flat, based on the success/failure balance.
func (h *HealingHistory) Trend() string {
	switch {
	case h.TotalRuns == 0:
		return "flat"
	case h.SuccessfulRuns > h.FailedRuns+h.RolledBackRuns:
		return "improving"
	case h.FailedRuns+h.RolledBackRuns > h.SuccessfulRuns:
		return "degrading"
	default:
		return "flat"
	}
}

// Record appends a run entry and updates the aggregate counters.
// learn controls whether the fix-type sets are updated.
func (h *HealingHistory) Record(entry HistoryEntry, avgElapsedMs float64, learn bool) {
	h.TotalRuns++
	if h.InitialAvgElapsedMs == 0 {
		h.InitialAvgElapsedMs = avgElapsedMs
	}

	switch entry.Status {
	case StatusApplied:
		h.SuccessfulRuns++
		h.CumulativeImprovementPercent += entry.ImprovementPercent
		if h.CumulativeImprovementPercent > 95 {
			h.CumulativeImprovementPercent = 95
		}
		h.CurrentAvgElapsedMs = avgElapsedMs * (1 - entry.ImprovementPercent/100)
		if learn {
			h.SuccessfulFixTypes = unionFixTypes(h.SuccessfulFixTypes, entry.AppliedFixTypes)
		}
	case StatusValidationFailed, StatusError:
		h.FailedRuns++
		h.CurrentAvgElapsedMs = avgElapsedMs
		if learn {
			h.FailedFixTypes = unionFixTypes(h.FailedFixTypes, entry.AppliedFixTypes)
		}
	case StatusRolledBack:
		h.RolledBackRuns++
	default:
		h.CurrentAvgElapsedMs = avgElapsedMs
	}

	h.Entries = append(h.Entries, entry)
}

// LastEntry returns the most recent run entry, if any.
func (h *HealingHistory) LastEntry() (HistoryEntry, bool) {
	if len(h.Entries) == 0 {
		return HistoryEntry{}, false
	}
	return h.Entries[len(h.Entries)-1], true
}

// unionFixTypes merges add into set, preserving order and skipping duplicates.
func unionFixTypes(set, add []FixType) []FixType {
	seen := make(map[FixType]bool, len(set))
	for _, t := range set {
		seen[t] = true
	}
	for _, t := range add {
		if !seen[t] {
			set = append(set, t)
			seen[t] = true
		}
	}
	return set
}
