// Package scheduler runs the periodic jobs: the pricing cycle over the
// active catalog, and the nightly archive-and-trim of aged records.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oscarmtz/pricebot/internal/domain"
	"github.com/oscarmtz/pricebot/internal/service"
)

// Config holds the cron schedules. Expressions use the standard 5-field
// format: "minute hour day-of-month month day-of-week".
type Config struct {
	PricingCron   string
	ArchiveCron   string
	RetentionDays int
}

// Scheduler owns the cron runner. Overlapping runs of the same job are
// skipped, not queued: a pricing cycle that outlives its interval simply
// absorbs the next tick.
type Scheduler struct {
	cron      *cron.Cron
	pricing   *service.PricingService
	sheets    *service.SheetService
	archiver  domain.Archiver
	proposals domain.ProposalStore
	listings  domain.ListingStore
	cfg       Config
	logger    *slog.Logger
}

// New creates a Scheduler. The sheet service may be nil when exports are
// not configured.
func New(
	pricing *service.PricingService,
	sheets *service.SheetService,
	archiver domain.Archiver,
	proposals domain.ProposalStore,
	listings domain.ListingStore,
	cfg Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
			cron.Recover(cron.DiscardLogger),
		)),
		pricing:   pricing,
		sheets:    sheets,
		archiver:  archiver,
		proposals: proposals,
		listings:  listings,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "scheduler")),
	}
}

// Start registers the jobs and starts the cron runner. Jobs inherit ctx, so
// cancelling it aborts any run in flight.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.PricingCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.PricingCron, func() { s.runPricing(ctx) }); err != nil {
			return fmt.Errorf("scheduler: pricing cron %q: %w", s.cfg.PricingCron, err)
		}
	}
	if s.cfg.ArchiveCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.ArchiveCron, func() { s.runArchive(ctx) }); err != nil {
			return fmt.Errorf("scheduler: archive cron %q: %w", s.cfg.ArchiveCron, err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		slog.String("pricing_cron", s.cfg.PricingCron),
		slog.String("archive_cron", s.cfg.ArchiveCron),
	)
	return nil
}

// Stop stops the cron runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runPricing(ctx context.Context) {
	report, err := s.pricing.ProposeAll(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled pricing cycle failed", slog.String("error", err.Error()))
		return
	}
	s.logger.InfoContext(ctx, "scheduled pricing cycle done",
		slog.Int("products", report.Products),
		slog.Int("published", report.Published),
		slog.Int("experiments", report.Experiments),
		slog.Duration("elapsed", report.Elapsed),
	)
}

// runArchive archives records older than the retention window to cold
// storage, trims them from the primary store, and refreshes the report
// sheets. Records are only deleted after their archive upload succeeded.
func (s *Scheduler) runArchive(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	s.logger.InfoContext(ctx, "archive run starting",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", s.cfg.RetentionDays),
	)

	if n, err := s.archiver.ArchiveProposals(ctx, cutoff); err != nil {
		s.logger.ErrorContext(ctx, "archive proposals failed", slog.String("error", err.Error()))
	} else {
		if _, err := s.proposals.DeleteBefore(ctx, cutoff); err != nil {
			s.logger.ErrorContext(ctx, "trim proposals failed", slog.String("error", err.Error()))
		}
		s.logger.InfoContext(ctx, "proposals archived", slog.Int64("count", n))
	}

	if n, err := s.archiver.ArchiveListings(ctx, cutoff); err != nil {
		s.logger.ErrorContext(ctx, "archive listings failed", slog.String("error", err.Error()))
	} else {
		if _, err := s.listings.DeleteBefore(ctx, cutoff); err != nil {
			s.logger.ErrorContext(ctx, "trim listings failed", slog.String("error", err.Error()))
		}
		s.logger.InfoContext(ctx, "listings archived", slog.Int64("count", n))
	}

	// Concluded experiments stay in the primary store; the archive copy is
	// for offline analysis.
	if n, err := s.archiver.ArchiveExperiments(ctx, cutoff); err != nil {
		s.logger.ErrorContext(ctx, "archive experiments failed", slog.String("error", err.Error()))
	} else {
		s.logger.InfoContext(ctx, "experiments archived", slog.Int64("count", n))
	}

	if s.sheets != nil {
		if _, err := s.sheets.ExportProposals(ctx); err != nil {
			s.logger.ErrorContext(ctx, "export proposals failed", slog.String("error", err.Error()))
		}
		if _, err := s.sheets.ExportExperiments(ctx); err != nil {
			s.logger.ErrorContext(ctx, "export experiments failed", slog.String("error", err.Error()))
		}
	}

	s.logger.InfoContext(ctx, "archive run complete")
}
