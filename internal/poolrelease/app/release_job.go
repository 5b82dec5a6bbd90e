package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	auditdomain "github.com/snoutservices/relay/internal/audit/domain"
	"github.com/snoutservices/relay/internal/poolrelease/domain"
)

type threadUnbinder interface {
	Unbind(ctx context.Context, threadID uuid.UUID) error
}

type rotationResetter interface {
	ResetRotationCursor(ctx context.Context, numberID uuid.UUID) error
}

type auditor interface {
	Record(ctx context.Context, ev auditdomain.Event)
}

// JobConfig holds the three release thresholds.
type JobConfig struct {
	PostBookingGrace  time.Duration
	InactivityRelease time.Duration
	MaxThreadLifetime time.Duration
	PollInterval      time.Duration
}

// ReleaseJob periodically returns pool numbers to rotation once their
// threads no longer need them. Any one trigger is sufficient.
type ReleaseJob struct {
	repo    domain.Repository
	threads threadUnbinder
	numbers rotationResetter
	audit   auditor
	cfg     JobConfig
	logger  *slog.Logger
}

func NewReleaseJob(repo domain.Repository, threads threadUnbinder, numbers rotationResetter, audit auditor, cfg JobConfig, logger *slog.Logger) *ReleaseJob {
	return &ReleaseJob{
		repo:    repo,
		threads: threads,
		numbers: numbers,
		audit:   audit,
		cfg:     cfg,
		logger:  logger.With("component", "pool_release_job"),
	}
}

// Run sweeps immediately and then on every tick until the context ends.
func (j *ReleaseJob) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.cfg.PollInterval)
	defer ticker.Stop()

	j.Sweep(ctx, time.Now().UTC())
	for {
		select {
		case <-ctx.Done():
			j.logger.InfoContext(ctx, "Pool release job stopping")
			return ctx.Err()
		case <-ticker.C:
			j.Sweep(ctx, time.Now().UTC())
		}
	}
}

// Sweep evaluates every pool-bound thread once. A failing item is logged and
// skipped; the batch always runs to completion.
func (j *ReleaseJob) Sweep(ctx context.Context, now time.Time) {
	sweepsTotal.Inc()

	threads, err := j.repo.ListPoolBoundThreads(ctx, now)
	if err != nil {
		j.logger.ErrorContext(ctx, "Failed to list pool-bound threads", "error", err)
		return
	}

	released := 0
	for _, pt := range threads {
		trigger := j.evaluate(pt, now)
		if trigger == "" {
			continue
		}
		if err := j.release(ctx, pt, trigger); err != nil {
			j.logger.ErrorContext(ctx, "Failed to release pool number",
				"error", err, "thread_id", pt.ThreadID, "number_id", pt.NumberID, "trigger", trigger)
			continue
		}
		released++
	}

	if released > 0 {
		j.logger.InfoContext(ctx, "Pool release sweep completed",
			"evaluated", len(threads), "released", released)
	}
}

// evaluate returns the first matching release trigger, or "".
func (j *ReleaseJob) evaluate(pt *domain.PoolThread, now time.Time) string {
	if !pt.HasActiveWindow && pt.LatestWindowEnd.Valid &&
		now.Sub(pt.LatestWindowEnd.Time) > j.cfg.PostBookingGrace {
		return auditdomain.ReasonGracePeriod
	}

	lastActivity := pt.CreatedAt
	if pt.LastMessageAt.Valid {
		lastActivity = pt.LastMessageAt.Time
	}
	if now.Sub(lastActivity) > j.cfg.InactivityRelease {
		return auditdomain.ReasonInactivity
	}

	if now.Sub(pt.CreatedAt) > j.cfg.MaxThreadLifetime {
		return auditdomain.ReasonMaxLifetime
	}
	return ""
}

func (j *ReleaseJob) release(ctx context.Context, pt *domain.PoolThread, trigger string) error {
	if err := j.threads.Unbind(ctx, pt.ThreadID); err != nil {
		return err
	}
	// No-op while other active threads still share the number.
	if err := j.numbers.ResetRotationCursor(ctx, pt.NumberID); err != nil {
		j.logger.ErrorContext(ctx, "Failed to reset rotation cursor",
			"error", err, "number_id", pt.NumberID)
	}

	releasedTotal.WithLabelValues(trigger).Inc()
	j.audit.Record(ctx, auditdomain.Event{
		OrgID:    pt.OrgID,
		Type:     auditdomain.EventPoolNumberReleased,
		ThreadID: uuid.NullUUID{UUID: pt.ThreadID, Valid: true},
		NumberID: uuid.NullUUID{UUID: pt.NumberID, Valid: true},
		Reason:   trigger,
	})
	return nil
}
