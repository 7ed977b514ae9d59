package warmer

// Status is the terminal outcome of a warm call
type Status string

const (
	// StatusFull means every phrase in the snapshot was synthesized and
	// the staged set was committed
	StatusFull Status = "full"

	// StatusPartial means some phrases failed; the staged files were
	// discarded and the previous cache preserved
	StatusPartial Status = "partial"

	// StatusFailed means no phrase succeeded, or the commit itself
	// failed; the previous cache is preserved
	StatusFailed Status = "failed"

	// StatusDeferred means the network was unavailable; a restoration
	// callback was registered and no work was done
	StatusDeferred Status = "deferred"

	// StatusSkipped means a cycle was already running
	StatusSkipped Status = "skipped"

	// StatusFresh means WarmIfNeeded found the cache current
	StatusFresh Status = "fresh"
)

// Progress is a publish-only snapshot of a warm cycle. Status is set only
// on the terminal update.
type Progress struct {
	CycleID   string  `json:"cycle_id"`
	Warming   bool    `json:"warming"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Fraction  float64 `json:"fraction"`
	Status    Status  `json:"status,omitempty"`
}
