package runner

import "signal_bot/internal/models"

// SplitBurst divides ranked candidates into the ones to open now and the
// overflow that gets a signal-burst cooldown. When the pass produced no more
// than threshold candidates the overflow is dropped without a cooldown.
func SplitBurst(ranked []models.CandidateSignal, limit, threshold int) (open, deferred []models.CandidateSignal) {
	if len(ranked) <= limit {
		return ranked, nil
	}
	open = ranked[:limit]
	if len(ranked) > threshold {
		deferred = ranked[limit:]
	}
	return open, deferred
}
