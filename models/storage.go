package models

// HistoryStore defines the persistence layer for healing history and
// per-hash enable/disable state.
//
// The core pipeline does not mandate persistence: MemoryHistoryStore is
// sufficient for a single-process deployment, and the DuckDB-backed
// implementation in the main package provides durability.
//
// Thread Safety: implementations must be safe for concurrent use. The
// orchestrator serializes read-modify-write cycles per query hash, so a
// store only needs to make individual calls atomic.
type HistoryStore interface {
	// GetHistory retrieves the healing history for a query hash.
	//
	// Returns the history and true if found, nil and false otherwise.
	GetHistory(queryHash string) (*HealingHistory, bool)

	// SaveHistory persists the full history aggregate for its query hash,
	// including any newly appended entries.
	SaveHistory(history *HealingHistory) error

	// SetEnabled records whether automatic healing is allowed for a
	// query hash. Hashes with no recorded state default to enabled.
	SetEnabled(queryHash string, enabled bool) error

	// IsEnabled reports whether healing is allowed for a query hash.
	IsEnabled(queryHash string) bool

	// Close releases any resources held by the store.
	Close() error
}
