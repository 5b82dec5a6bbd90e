package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	alertsdomain "github.com/snoutservices/relay/internal/alerts/domain"
	auditdomain "github.com/snoutservices/relay/internal/audit/domain"
	"github.com/snoutservices/relay/internal/numberregistry/domain"
)

type auditor interface {
	Record(ctx context.Context, ev auditdomain.Event)
}

// RegistryConfig holds the rotation and cooldown policy knobs.
type RegistryConfig struct {
	SitterNumberCooldownDays int
	MaxThreadsPerPoolNumber  int
	MinPoolReserve           int
}

// Registry owns the lifecycle of the org's masking numbers: the front-desk
// singleton, sitter assignment with offboarding cooldown, and pool rotation.
type Registry struct {
	repo     domain.NumberRepository
	alerts   alertsdomain.AlertRepository
	audit    auditor
	strategy SelectionStrategy
	cfg      RegistryConfig
	logger   *slog.Logger
}

func NewRegistry(
	repo domain.NumberRepository,
	alerts alertsdomain.AlertRepository,
	audit auditor,
	strategy SelectionStrategy,
	cfg RegistryConfig,
	logger *slog.Logger,
) *Registry {
	if cfg.SitterNumberCooldownDays <= 0 {
		cfg.SitterNumberCooldownDays = 90
	}
	if cfg.MaxThreadsPerPoolNumber <= 0 {
		cfg.MaxThreadsPerPoolNumber = 1
	}
	return &Registry{
		repo:     repo,
		alerts:   alerts,
		audit:    audit,
		strategy: strategy,
		cfg:      cfg,
		logger:   logger.With("component", "number_registry"),
	}
}

// GetByID returns the number or domain.ErrNotFound.
func (r *Registry) GetByID(ctx context.Context, id uuid.UUID) (*domain.PhoneNumber, error) {
	return r.repo.GetByID(ctx, id)
}

// FindByE164 returns (nil, nil) when the org owns no such number.
func (r *Registry) FindByE164(ctx context.Context, orgID uuid.UUID, e164 string) (*domain.PhoneNumber, error) {
	return r.repo.FindByE164(ctx, orgID, e164)
}

// GetOrCreateFrontDesk returns the org's single active front-desk number.
// Provisioning is external, so a missing number is ErrNotConfigured, not a
// create.
func (r *Registry) GetOrCreateFrontDesk(ctx context.Context, orgID uuid.UUID) (*domain.PhoneNumber, error) {
	num, err := r.repo.GetActiveFrontDesk(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("front desk lookup: %w", err)
	}
	if num == nil {
		if alertErr := r.alerts.Raise(ctx, &alertsdomain.Alert{
			OrgID:       orgID,
			Type:        alertsdomain.TypeFrontDeskMissing,
			EntityID:    orgID.String(),
			Severity:    alertsdomain.SeverityCritical,
			Title:       "Front Desk number not configured",
			Description: "No active front-desk number exists for this org. Provision one to restore default routing.",
		}); alertErr != nil {
			r.logger.WarnContext(ctx, "Failed to raise front-desk alert", "error", alertErr)
		}
		return nil, domain.ErrNotConfigured
	}
	return num, nil
}

// AssignSitterNumber returns the sitter's masked number, assigning one if
// needed. Idempotent: an existing active binding is returned unchanged.
//
// When no unassigned sitter-class number exists, numbers deactivated at least
// the cooldown ago are demoted to pool (never reassigned to a different
// sitter) and the call fails with ErrNoAvailableNumber; numbers still inside
// cooldown are left untouched.
func (r *Registry) AssignSitterNumber(ctx context.Context, orgID, sitterID uuid.UUID) (*domain.PhoneNumber, error) {
	existing, err := r.repo.FindActiveBySitter(ctx, orgID, sitterID)
	if err != nil {
		return nil, fmt.Errorf("sitter number lookup: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	claimed, err := r.repo.ClaimSitterNumber(ctx, orgID, sitterID)
	if err != nil {
		return nil, fmt.Errorf("sitter number claim: %w", err)
	}
	if claimed != nil {
		r.audit.Record(ctx, auditdomain.Event{
			OrgID:    orgID,
			Type:     auditdomain.EventSitterNumberAssigned,
			NumberID: uuid.NullUUID{UUID: claimed.ID, Valid: true},
			Detail:   map[string]any{"sitter_id": sitterID.String()},
		})
		return claimed, nil
	}

	// No claimable number. Demote any number past cooldown so a later pool
	// selection can use it; the sitter still needs a fresh number.
	cutoff := time.Now().UTC().AddDate(0, 0, -r.cfg.SitterNumberCooldownDays)
	expired, err := r.repo.ListCooldownExpired(ctx, orgID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("cooldown scan: %w", err)
	}
	for _, num := range expired {
		if err := r.repo.DemoteToPool(ctx, num.ID); err != nil {
			r.logger.ErrorContext(ctx, "Failed to demote cooled-down number to pool",
				"error", err, "number_id", num.ID)
			continue
		}
		r.audit.Record(ctx, auditdomain.Event{
			OrgID:    orgID,
			Type:     auditdomain.EventNumberDemotedToPool,
			NumberID: uuid.NullUUID{UUID: num.ID, Valid: true},
			Reason:   "sitter_cooldown_elapsed",
		})
	}

	if alertErr := r.alerts.Raise(ctx, &alertsdomain.Alert{
		OrgID:       orgID,
		Type:        alertsdomain.TypeNoSitterNumber,
		EntityID:    sitterID.String(),
		Severity:    alertsdomain.SeverityCritical,
		Title:       "No sitter number available",
		Description: "No unassigned sitter-class number exists. Provision a fresh number for this sitter.",
	}); alertErr != nil {
		r.logger.WarnContext(ctx, "Failed to raise sitter-number alert", "error", alertErr)
	}

	return nil, domain.ErrNoAvailableNumber
}

// GetPoolNumber selects a pool number via the configured strategy, skipping
// numbers at capacity. A nil, nil return means the pool is exhausted; that is
// a first-class outcome the caller must handle, not an error.
func (r *Registry) GetPoolNumber(ctx context.Context, orgID uuid.UUID, sc SelectionContext) (*domain.PhoneNumber, error) {
	candidates, err := r.repo.ListPoolWithUsage(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("pool listing: %w", err)
	}
	if len(candidates) == 0 {
		r.logger.WarnContext(ctx, "No pool numbers provisioned", "org_id", orgID)
		return nil, nil
	}

	excluded := make(map[uuid.UUID]bool, len(sc.Exclude))
	for _, id := range sc.Exclude {
		excluded[id] = true
	}

	eligible := make([]*domain.PoolCandidate, 0, len(candidates))
	activeThreads := 0
	for _, c := range candidates {
		activeThreads += c.ActiveThreads
		if excluded[c.Number.ID] {
			continue
		}
		if c.ActiveThreads >= r.cfg.MaxThreadsPerPoolNumber {
			continue
		}
		eligible = append(eligible, c)
	}

	if len(eligible) == 0 {
		r.raisePoolExhausted(ctx, orgID, len(candidates), activeThreads)
		return nil, nil
	}

	selected := r.strategy.Select(eligible, sc)
	if selected == nil {
		return nil, nil
	}

	if err := r.repo.TouchLastAssigned(ctx, selected.Number.ID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("rotation cursor update: %w", err)
	}

	r.audit.Record(ctx, auditdomain.Event{
		OrgID:    orgID,
		Type:     auditdomain.EventPoolNumberAssigned,
		NumberID: uuid.NullUUID{UUID: selected.Number.ID, Valid: true},
		ThreadID: sc.ThreadID,
		Detail: map[string]any{
			"strategy":       r.strategy.Name(),
			"active_threads": selected.ActiveThreads,
			"eligible_count": len(eligible),
			"pool_size":      len(candidates),
		},
	})

	return selected.Number, nil
}

func (r *Registry) raisePoolExhausted(ctx context.Context, orgID uuid.UUID, poolSize, activeThreads int) {
	recommended := activeThreads/r.cfg.MaxThreadsPerPoolNumber + 2
	if recommended < r.cfg.MinPoolReserve {
		recommended = r.cfg.MinPoolReserve
	}

	if err := r.alerts.Raise(ctx, &alertsdomain.Alert{
		OrgID:    orgID,
		Type:     alertsdomain.TypePoolExhausted,
		EntityID: "pool",
		Severity: alertsdomain.SeverityCritical,
		Title:    "Pool numbers exhausted",
		Description: fmt.Sprintf(
			"All %d pool numbers are at capacity (%d active threads). Inbound traffic is routed to the owner inbox. Recommended minimum pool size: %d.",
			poolSize, activeThreads, recommended),
	}); err != nil {
		r.logger.ErrorContext(ctx, "Failed to raise pool-exhausted alert", "error", err)
	}

	r.audit.Record(ctx, auditdomain.Event{
		OrgID:  orgID,
		Type:   auditdomain.EventPoolExhausted,
		Reason: "all_pool_numbers_at_capacity",
		Detail: map[string]any{
			"pool_size":             poolSize,
			"active_threads":        activeThreads,
			"max_per_number":        r.cfg.MaxThreadsPerPoolNumber,
			"recommended_pool_size": recommended,
		},
	})
}

// DeactivateSitterNumber offboards the sitter's masked number: the number is
// marked inactive and stamped for cooldown, and the row is kept for audit.
func (r *Registry) DeactivateSitterNumber(ctx context.Context, orgID, sitterID uuid.UUID) (*domain.PhoneNumber, error) {
	num, err := r.repo.FindActiveBySitter(ctx, orgID, sitterID)
	if err != nil {
		return nil, fmt.Errorf("sitter number lookup: %w", err)
	}
	if num == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	if err := r.repo.Deactivate(ctx, num.ID, now); err != nil {
		return nil, fmt.Errorf("deactivate number: %w", err)
	}

	r.audit.Record(ctx, auditdomain.Event{
		OrgID:    orgID,
		Type:     auditdomain.EventSitterNumberDeactivated,
		NumberID: uuid.NullUUID{UUID: num.ID, Valid: true},
		Detail:   map[string]any{"sitter_id": sitterID.String()},
	})
	return num, nil
}

// ResetRotationCursor clears the rotation cursor of a number that no longer
// serves any active thread. Used by the pool release job.
func (r *Registry) ResetRotationCursor(ctx context.Context, numberID uuid.UUID) error {
	return r.repo.ResetRotationCursor(ctx, numberID)
}
