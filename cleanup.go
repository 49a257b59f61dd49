package accounts

import (
	"context"
	"fmt"
)

// runCleaners runs every cleaner once over identityIDs. Cleaners are isolated
// from each other: an error or panic in one is recorded on its outcome and
// the rest still run.
func runCleaners(ctx context.Context, cleaners []DependentResourceCleaner, identityIDs []string, logger Logger) []CleanupOutcome {
	outcomes := make([]CleanupOutcome, 0, len(cleaners))
	for _, cleaner := range cleaners {
		if cleaner == nil {
			continue
		}
		outcome := runCleaner(ctx, cleaner, identityIDs)
		if outcome.Err != nil {
			logger.Warn("dependent resource cleanup failed",
				"resource", outcome.Resource,
				"identity_ids", identityIDs,
				"error", outcome.Err,
			)
		} else {
			logger.Debug("dependent resource cleanup",
				"resource", outcome.Resource,
				"affected", outcome.Affected,
			)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func runCleaner(ctx context.Context, cleaner DependentResourceCleaner, identityIDs []string) (outcome CleanupOutcome) {
	outcome.Resource = cleaner.Resource()

	defer func() {
		if r := recover(); r != nil {
			outcome.Err = fmt.Errorf("cleaner %s panicked: %v", outcome.Resource, r)
		}
	}()

	outcome.Affected, outcome.Err = cleaner.Clean(ctx, identityIDs)
	return outcome
}
