package accounts

import (
	"context"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type BulkDeleteUsersMessage struct {
	IdentityIDs []string `json:"identity_ids"`
	Actor       ActorRef `json:"-"`
	OnResponse  func(BulkDeletionSummary)
}

func (e BulkDeleteUsersMessage) Type() string { return "account.bulk_delete" }

// BulkDeleteUsersHandler deprovisions a set of users with batched profile
// and cleanup statements.
type BulkDeleteUsersHandler struct {
	identities IdentityStore
	profiles   ProfileRepository
	cleaners   []DependentResourceCleaner
	config     Config
	limiter    *rate.Limiter
	activity   ActivitySink
	logger     Logger
	now        func() time.Time
}

// NewBulkDeleteUsersHandler creates a handler with sane defaults.
func NewBulkDeleteUsersHandler(identities IdentityStore, profiles ProfileRepository, cfg Config, cleaners ...DependentResourceCleaner) *BulkDeleteUsersHandler {
	cfg = cfg.withDefaults()
	h := &BulkDeleteUsersHandler{
		identities: identities,
		profiles:   profiles,
		cleaners:   cleaners,
		config:     cfg,
		activity:   noopActivitySink{},
		logger:     defLogger{},
		now:        time.Now,
	}
	if cfg.IdentityDeleteRate > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.IdentityDeleteRate), cfg.BulkDeleteConcurrency)
	}
	return h
}

// WithActivitySink sets the sink used to emit deprovisioning events.
func (h *BulkDeleteUsersHandler) WithActivitySink(sink ActivitySink) *BulkDeleteUsersHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *BulkDeleteUsersHandler) WithLogger(logger Logger) *BulkDeleteUsersHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *BulkDeleteUsersHandler) Execute(ctx context.Context, event BulkDeleteUsersMessage) error {
	select {
	case <-ctx.Done():
		return wrapCancelled(ctx.Err(), "bulk account deletion")
	default:
		summary, err := h.BulkDelete(ctx, event.Actor, event.IdentityIDs)
		if err != nil {
			return err
		}
		if event.OnResponse != nil {
			event.OnResponse(*summary)
		}
		return nil
	}
}

// BulkDelete removes every profile found for ids in one statement, deletes
// the matching identities concurrently and runs the cleaners once over the
// whole set. A failed identity deletion is reported as a residual identity,
// never as a failure of the run.
func (h *BulkDeleteUsersHandler) BulkDelete(ctx context.Context, actor ActorRef, identityIDs []string) (*BulkDeletionSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.OperationTimeout)
	defer cancel()

	ids := uniqueIDs(identityIDs)
	if len(ids) == 0 {
		return nil, goerrors.New("at least one identity id is required", goerrors.CategoryValidation).
			WithTextCode(TextCodeValidationFailed).
			WithCode(goerrors.CodeBadRequest)
	}

	summary := &BulkDeletionSummary{
		Requested:          len(ids),
		ResidualIdentities: map[string]error{},
	}

	profiles, err := h.profiles.FindProfiles(ctx, ids)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not read profiles for bulk deletion")
	}

	found := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		found[p.IdentityID()] = p
	}

	targets := make([]string, 0, len(found))
	for _, id := range ids {
		if _, ok := found[id]; ok {
			targets = append(targets, id)
		} else {
			summary.NotFound = append(summary.NotFound, id)
		}
	}

	if len(profiles) > 0 {
		deleted, err := h.profiles.DeleteProfiles(ctx, profiles)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not delete profiles").
				WithMetadata(map[string]any{"identity_ids": targets})
		}
		summary.Deleted = int(deleted)
	}

	statuses := h.deleteIdentities(ctx, targets, summary)
	for _, id := range targets {
		if statuses[id] != IdentityFailed {
			summary.DeletedIDs = append(summary.DeletedIDs, id)
		}
	}

	summary.Cleanup = runCleaners(ctx, h.cleaners, ids, h.logger)
	summary.Warning = newPartialCleanupError(ids, summary.Cleanup)

	activityRecorder{sink: h.activity, logger: h.logger, now: h.now}.record(ctx, ActivityEvent{
		EventType: ActivityEventBulkDeprovisioned,
		Actor:     actor,
		Metadata: map[string]any{
			"requested":           summary.Requested,
			"deleted":             summary.Deleted,
			"not_found":           summary.NotFound,
			"residual_identities": len(summary.ResidualIdentities),
			"failed_cleaners":     failedResources(summary.Cleanup),
		},
	})

	h.logger.Info("bulk deprovisioning finished",
		"requested", summary.Requested,
		"deleted", summary.Deleted,
		"not_found", len(summary.NotFound),
		"residual_identities", len(summary.ResidualIdentities),
	)

	return summary, nil
}

// deleteIdentities fires one delete per id, bounded by the configured
// concurrency and rate, and waits for all of them.
func (h *BulkDeleteUsersHandler) deleteIdentities(ctx context.Context, ids []string, summary *BulkDeletionSummary) map[string]IdentityDeletionStatus {
	var mu sync.Mutex
	statuses := make(map[string]IdentityDeletionStatus, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.BulkDeleteConcurrency)

	for _, id := range ids {
		g.Go(func() error {
			status, err := h.deleteIdentity(gctx, id)

			mu.Lock()
			defer mu.Unlock()

			statuses[id] = status
			if err != nil {
				summary.ResidualIdentities[id] = newResidualIdentityError(err, id)
				h.logger.Warn("residual identity after bulk deletion",
					"identity_id", id,
					"error", err,
				)
			}
			// per id failures never cancel the siblings
			return nil
		})
	}

	_ = g.Wait()
	return statuses
}

func (h *BulkDeleteUsersHandler) deleteIdentity(ctx context.Context, id string) (IdentityDeletionStatus, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return IdentityFailed, err
		}
	}

	if err := h.identities.DeleteIdentity(ctx, id); err != nil {
		if IsIdentityNotFound(err) {
			return IdentityAbsent, nil
		}
		return IdentityFailed, err
	}
	return IdentityDeleted, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
