package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oscarmtz/pricebot/internal/config"
	"github.com/oscarmtz/pricebot/internal/experiment"
	"github.com/oscarmtz/pricebot/internal/pricing"
	"github.com/oscarmtz/pricebot/internal/scheduler"
	"github.com/oscarmtz/pricebot/internal/server"
	"github.com/oscarmtz/pricebot/internal/server/handler"
	"github.com/oscarmtz/pricebot/internal/server/ws"
	"github.com/oscarmtz/pricebot/internal/service"
	"github.com/oscarmtz/pricebot/internal/snapshot"
)

// snapshotWarmDepth is how many stored observations per product are
// replayed into the in-memory snapshot on startup.
const snapshotWarmDepth = 50

// Services aggregates the assembled service layer and the optional
// long-running components.
type Services struct {
	Catalog   *service.CatalogService
	Pricing   *service.PricingService
	Outcomes  *service.OutcomeService
	Sheets    *service.SheetService
	Scheduler *scheduler.Scheduler
	Server    *server.Server
	Hub       *ws.Hub
}

// buildServices assembles the domain engine, experiment manager, and
// services on top of the wired dependencies.
func buildServices(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*Services, error) {
	snapshots := snapshot.New(cfg.Pricing.SnapshotMaxAge.Duration)

	fees := pricing.FeeSchedule{
		Commission:      cfg.Fees.Commission,
		ShippingByClass: cfg.Fees.ShippingByClass,
		TaxByCategory:   cfg.Fees.TaxByCategory,
		DefaultTax:      cfg.Fees.DefaultTax,
	}
	for _, t := range cfg.Fees.Tiers {
		fees.Tiers = append(fees.Tiers, pricing.CommissionTier{UpTo: t.UpTo, Rate: t.Rate})
	}

	engine, err := pricing.NewEngine(
		fees,
		pricing.Weights{
			Margin:          cfg.Pricing.MarginWeight,
			Competitiveness: cfg.Pricing.CompetitivenessWeight,
			Quality:         cfg.Pricing.QualityWeight,
		},
		cfg.Pricing.MaxPremium,
		pricing.Policy{
			TargetMargin:        cfg.Pricing.TargetMargin,
			MinMargin:           cfg.Pricing.MinMargin,
			PublishThreshold:    cfg.Pricing.PublishThreshold,
			ExperimentBand:      cfg.Pricing.ExperimentBand,
			UndercutBps:         float64(cfg.Pricing.UndercutBps),
			ExperimentSpreadBps: float64(cfg.Pricing.ExperimentSpreadBps),
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("app: pricing engine: %w", err)
	}

	manager, err := experiment.NewManager(
		deps.ExperimentStore,
		deps.ReferencePrices,
		experiment.Config{
			MinSampleSize: cfg.Experiment.MinSampleSize,
			Confidence:    cfg.Experiment.Confidence,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("app: experiment manager: %w", err)
	}

	catalog := service.NewCatalogService(
		deps.ProductStore, deps.ListingStore, snapshots,
		deps.ExperimentStore, manager, deps.ReferencePrices,
		deps.AuditStore, logger,
	)
	pricingSvc := service.NewPricingService(
		deps.ProductStore, deps.ProposalStore, snapshots,
		deps.ReferencePrices, deps.LockManager, deps.SignalBus,
		engine, manager, deps.ExperimentStore, deps.Notifier, deps.AuditStore,
		cfg.Pricing.LockTTL.Duration, cfg.Pricing.CycleConcurrency, logger,
	)
	outcomes := service.NewOutcomeService(
		manager, deps.ExperimentStore, deps.LockManager, deps.SignalBus,
		deps.Notifier, deps.AuditStore, cfg.Pricing.LockTTL.Duration, logger,
	)
	sheets := service.NewSheetService(
		catalog, deps.ProductStore, deps.ProposalStore, deps.ExperimentStore,
		cfg.Sheets.ImportPath, cfg.Sheets.ExportDir, logger,
	)

	svcs := &Services{
		Catalog:  catalog,
		Pricing:  pricingSvc,
		Outcomes: outcomes,
		Sheets:   sheets,
	}

	if cfg.Scheduler.Enabled {
		svcs.Scheduler = scheduler.New(
			pricingSvc, sheets, deps.Archiver,
			deps.ProposalStore, deps.ListingStore,
			scheduler.Config{
				PricingCron:   cfg.Scheduler.PricingCron,
				ArchiveCron:   cfg.Scheduler.ArchiveCron,
				RetentionDays: cfg.Scheduler.ArchiveRetentionDays,
			},
			logger,
		)
	}

	if cfg.Server.Enabled {
		svcs.Hub = ws.NewHub(deps.SignalBus, cfg.Mode, logger)
		svcs.Server = server.NewServer(
			server.Config{
				Port:        cfg.Server.Port,
				CORSOrigins: cfg.Server.CORSOrigins,
				APIKey:      cfg.Server.APIKey,
			},
			server.Handlers{
				Health:      handler.NewHealthHandler(logger),
				Products:    handler.NewProductHandler(catalog, logger),
				Pricing:     handler.NewPricingHandler(pricingSvc, logger),
				Experiments: handler.NewExperimentHandler(outcomes, logger),
				Audit:       handler.NewAuditHandler(deps.AuditStore, logger),
			},
			svcs.Hub,
			logger,
		)
	}

	return svcs, nil
}

// ServerMode runs the HTTP API and WebSocket hub without the scheduler.
// Pricing only happens on explicit API triggers.
func (a *App) ServerMode(ctx context.Context, s *Services) error {
	if s.Server == nil {
		return fmt.Errorf("app: server mode requires server.enabled")
	}
	if err := s.Catalog.WarmSnapshots(ctx, snapshotWarmDepth); err != nil {
		a.logger.WarnContext(ctx, "snapshot warmup failed", slog.String("error", err.Error()))
	}
	return a.serve(ctx, s, false)
}

// CycleMode runs a single pricing cycle and exits: cost-override import,
// snapshot warmup, proposal generation, report exports.
func (a *App) CycleMode(ctx context.Context, s *Services) error {
	if err := s.Catalog.WarmSnapshots(ctx, snapshotWarmDepth); err != nil {
		return fmt.Errorf("app: cycle: %w", err)
	}

	if a.cfg.Sheets.ImportPath != "" {
		if _, err := s.Sheets.ImportCostOverrides(ctx); err != nil {
			a.logger.WarnContext(ctx, "cost override import failed", slog.String("error", err.Error()))
		}
	}

	report, err := s.Pricing.ProposeAll(ctx)
	if err != nil {
		return fmt.Errorf("app: cycle: %w", err)
	}
	a.logger.InfoContext(ctx, "cycle complete",
		slog.Int("products", report.Products),
		slog.Int("published", report.Published),
		slog.Int("held", report.Held),
		slog.Int("experiments", report.Experiments),
	)

	if a.cfg.Sheets.ExportDir != "" {
		if _, err := s.Sheets.ExportProposals(ctx); err != nil {
			a.logger.WarnContext(ctx, "proposal export failed", slog.String("error", err.Error()))
		}
		if _, err := s.Sheets.ExportExperiments(ctx); err != nil {
			a.logger.WarnContext(ctx, "experiment export failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// FullMode runs everything: HTTP API, WebSocket hub, and the scheduler
// driving recurring pricing cycles and archival.
func (a *App) FullMode(ctx context.Context, s *Services) error {
	if s.Server == nil {
		return fmt.Errorf("app: full mode requires server.enabled")
	}
	if err := s.Catalog.WarmSnapshots(ctx, snapshotWarmDepth); err != nil {
		a.logger.WarnContext(ctx, "snapshot warmup failed", slog.String("error", err.Error()))
	}
	return a.serve(ctx, s, true)
}

// serve runs the long-lived components until the context is cancelled.
func (a *App) serve(ctx context.Context, s *Services, withScheduler bool) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.Hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if withScheduler && s.Scheduler != nil {
		if err := s.Scheduler.Start(gctx); err != nil {
			return err
		}
		defer s.Scheduler.Stop()
	}

	g.Go(func() error {
		return s.Server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
