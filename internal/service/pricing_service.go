package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oscarmtz/pricebot/internal/domain"
	"github.com/oscarmtz/pricebot/internal/experiment"
	"github.com/oscarmtz/pricebot/internal/notify"
	"github.com/oscarmtz/pricebot/internal/pricing"
	"github.com/oscarmtz/pricebot/internal/snapshot"
)

// Bus channels and streams carrying pricing signals.
const (
	ChannelDecisions = "pricing.decisions"
	StreamDecisions  = "stream:pricing.decisions"
)

// DecisionEvent is the payload published for every generated proposal.
type DecisionEvent struct {
	ProposalID    string  `json:"proposal_id"`
	ProductID     string  `json:"product_id"`
	Price         float64 `json:"price"`
	Floor         float64 `json:"floor"`
	Score         float64 `json:"score"`
	Decision      string  `json:"decision"`
	Clamped       bool    `json:"clamped"`
	LowConfidence bool    `json:"low_confidence"`
	ExperimentID  string  `json:"experiment_id,omitempty"`
	GeneratedAt   string  `json:"generated_at"`
}

// CycleReport summarizes one full pricing cycle.
type CycleReport struct {
	Products    int
	Published   int
	Held        int
	Experiments int
	Skipped     int
	Failed      int
	Elapsed     time.Duration
}

// PricingService runs the propose-decide-act loop: it gathers inputs,
// invokes the engine, persists the proposal, publishes the decision, and
// starts experiments. Work on one product serializes on the product's lock;
// a cycle prices different products concurrently.
type PricingService struct {
	products    domain.ProductStore
	proposals   domain.ProposalStore
	snapshots   *snapshot.Store
	refs        domain.ReferencePriceCache
	locks       domain.LockManager
	bus         domain.SignalBus
	engine      *pricing.Engine
	manager     *experiment.Manager
	experiments domain.ExperimentStore
	notifier    *notify.Notifier
	audit       domain.AuditStore
	logger      *slog.Logger

	lockTTL     time.Duration
	concurrency int
}

// NewPricingService creates a PricingService. Concurrency bounds the number
// of products priced in parallel during a cycle; values below 1 are raised
// to 1.
func NewPricingService(
	products domain.ProductStore,
	proposals domain.ProposalStore,
	snapshots *snapshot.Store,
	refs domain.ReferencePriceCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	engine *pricing.Engine,
	manager *experiment.Manager,
	experiments domain.ExperimentStore,
	notifier *notify.Notifier,
	audit domain.AuditStore,
	lockTTL time.Duration,
	concurrency int,
	logger *slog.Logger,
) *PricingService {
	if concurrency < 1 {
		concurrency = 1
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &PricingService{
		products:    products,
		proposals:   proposals,
		snapshots:   snapshots,
		refs:        refs,
		locks:       locks,
		bus:         bus,
		engine:      engine,
		manager:     manager,
		experiments: experiments,
		notifier:    notifier,
		audit:       audit,
		logger:      logger.With(slog.String("component", "pricing_service")),
		lockTTL:     lockTTL,
		concurrency: concurrency,
	}
}

// ProposeProduct runs one pricing pass for a single product under the
// product's lock. A held lock means another pass is in flight; the caller
// sees domain.ErrLockHeld and retries on the next cycle.
func (s *PricingService) ProposeProduct(ctx context.Context, productID string) (domain.PriceProposal, error) {
	unlock, err := s.locks.Acquire(ctx, "product:"+productID, s.lockTTL)
	if err != nil {
		return domain.PriceProposal{}, fmt.Errorf("pricing_service: lock %s: %w", productID, err)
	}
	defer unlock()

	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return domain.PriceProposal{}, fmt.Errorf("pricing_service: product %s: %w", productID, err)
	}
	if product.Status != domain.ProductStatusActive {
		return domain.PriceProposal{}, fmt.Errorf("pricing_service: product %s is %s, not active", productID, product.Status)
	}

	proposal, err := s.propose(ctx, product)
	if err != nil {
		return domain.PriceProposal{}, err
	}
	return proposal, nil
}

// propose does the work once the lock is held and the product is known
// active.
func (s *PricingService) propose(ctx context.Context, product domain.Product) (domain.PriceProposal, error) {
	in := pricing.Inputs{
		Product:  product,
		Snapshot: s.snapshots.Latest(product.ID),
	}

	if price, _, err := s.refs.Get(ctx, product.ID); err == nil {
		in.ReferencePrice = &price
	} else if !errors.Is(err, domain.ErrNotFound) {
		// A cache outage degrades to target-margin anchoring, it does not
		// block the cycle.
		s.logger.WarnContext(ctx, "reference price lookup failed",
			slog.String("product_id", product.ID),
			slog.String("error", err.Error()),
		)
	}

	proposal, err := s.engine.Propose(in)
	if err != nil {
		return domain.PriceProposal{}, fmt.Errorf("pricing_service: propose %s: %w", product.ID, err)
	}

	if err := s.proposals.Create(ctx, proposal); err != nil {
		return domain.PriceProposal{}, fmt.Errorf("pricing_service: persist proposal %s: %w", proposal.ID, err)
	}

	experimentID := ""
	if proposal.Decision == domain.DecisionExperiment {
		experimentID = s.startExperiment(ctx, proposal)
	}

	s.publishDecision(ctx, proposal, experimentID)
	s.notifyDecision(ctx, product, proposal)

	s.logger.InfoContext(ctx, "proposal generated",
		slog.String("proposal_id", proposal.ID),
		slog.String("product_id", product.ID),
		slog.Float64("price", proposal.Price),
		slog.Float64("score", proposal.Score),
		slog.String("decision", string(proposal.Decision)),
		slog.Bool("clamped", proposal.Clamped),
	)
	return proposal, nil
}

// startExperiment plans and activates an experiment from the proposal's
// variants unless the product already has one open. Failures are logged and
// audited, not surfaced: the proposal itself is already durable and the
// next cycle retries.
func (s *PricingService) startExperiment(ctx context.Context, proposal domain.PriceProposal) string {
	if _, err := s.experiments.GetOpenByProduct(ctx, proposal.ProductID); err == nil {
		s.logger.DebugContext(ctx, "experiment already open, not starting another",
			slog.String("product_id", proposal.ProductID),
		)
		return ""
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "open experiment lookup failed",
			slog.String("product_id", proposal.ProductID),
			slog.String("error", err.Error()),
		)
		return ""
	}

	exp, err := s.manager.Plan(ctx, proposal.ProductID, proposal.Variants)
	if err != nil {
		s.logger.ErrorContext(ctx, "plan experiment failed",
			slog.String("product_id", proposal.ProductID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	if _, err := s.manager.Activate(ctx, exp.ID); err != nil {
		s.logger.ErrorContext(ctx, "activate experiment failed",
			slog.String("experiment_id", exp.ID),
			slog.String("error", err.Error()),
		)
		return exp.ID
	}

	if err := s.audit.Log(ctx, "experiment.started", map[string]any{
		"experiment_id": exp.ID,
		"product_id":    proposal.ProductID,
		"proposal_id":   proposal.ID,
		"variants":      len(exp.Variants),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit experiment start failed", slog.String("error", err.Error()))
	}
	return exp.ID
}

// publishDecision fans the decision out on the pub/sub channel for live
// consumers and appends it to the durable stream for replay. Both paths are
// best-effort; the proposal record is the source of truth.
func (s *PricingService) publishDecision(ctx context.Context, p domain.PriceProposal, experimentID string) {
	payload, err := json.Marshal(DecisionEvent{
		ProposalID:    p.ID,
		ProductID:     p.ProductID,
		Price:         p.Price,
		Floor:         p.Floor,
		Score:         p.Score,
		Decision:      string(p.Decision),
		Clamped:       p.Clamped,
		LowConfidence: p.LowConfidence,
		ExperimentID:  experimentID,
		GeneratedAt:   p.GeneratedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal decision event failed", slog.String("error", err.Error()))
		return
	}

	if err := s.bus.Publish(ctx, ChannelDecisions, payload); err != nil {
		s.logger.WarnContext(ctx, "publish decision failed",
			slog.String("proposal_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, StreamDecisions, payload); err != nil {
		s.logger.WarnContext(ctx, "append decision to stream failed",
			slog.String("proposal_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

// notifyDecision raises operator notifications for publishes and clamps.
func (s *PricingService) notifyDecision(ctx context.Context, product domain.Product, p domain.PriceProposal) {
	if p.Clamped {
		msg := fmt.Sprintf("%s (%s) clamped to floor %.2f, score %.1f", product.Name, product.SKU, p.Price, p.Score)
		if err := s.notifier.Notify(ctx, notify.EventPriceClamped, "Price clamped", msg); err != nil {
			s.logger.WarnContext(ctx, "notify clamp failed", slog.String("error", err.Error()))
		}
	}
	if p.Decision == domain.DecisionPublish {
		msg := fmt.Sprintf("%s (%s) published at %.2f, margin %.1f%%, score %.1f",
			product.Name, product.SKU, p.Price, p.Margin*100, p.Score)
		if err := s.notifier.Notify(ctx, notify.EventPricePublished, "Price published", msg); err != nil {
			s.logger.WarnContext(ctx, "notify publish failed", slog.String("error", err.Error()))
		}
	}
}

// ProposeAll prices every active product, bounded by the configured
// concurrency. Lock contention counts as skipped, not failed; any other
// per-product error is logged and counted but never stops the cycle.
func (s *PricingService) ProposeAll(ctx context.Context) (CycleReport, error) {
	start := time.Now()

	products, err := s.products.ListActive(ctx, domain.ListOpts{})
	if err != nil {
		return CycleReport{}, fmt.Errorf("pricing_service: list active: %w", err)
	}

	report := CycleReport{Products: len(products)}
	results := make([]domain.Decision, len(products))
	failures := make([]error, len(products))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, product := range products {
		g.Go(func() error {
			proposal, err := s.ProposeProduct(gctx, product.ID)
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = proposal.Decision
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("pricing_service: cycle: %w", err)
	}

	for i := range products {
		switch {
		case failures[i] != nil && errors.Is(failures[i], domain.ErrLockHeld):
			report.Skipped++
		case failures[i] != nil:
			report.Failed++
			s.logger.ErrorContext(ctx, "pricing product failed",
				slog.String("product_id", products[i].ID),
				slog.String("error", failures[i].Error()),
			)
		case results[i] == domain.DecisionPublish:
			report.Published++
		case results[i] == domain.DecisionExperiment:
			report.Experiments++
		default:
			report.Held++
		}
	}
	report.Elapsed = time.Since(start)

	if err := s.audit.Log(ctx, "pricing.cycle", map[string]any{
		"products":    report.Products,
		"published":   report.Published,
		"held":        report.Held,
		"experiments": report.Experiments,
		"skipped":     report.Skipped,
		"failed":      report.Failed,
		"elapsed_ms":  report.Elapsed.Milliseconds(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit cycle failed", slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "pricing cycle finished",
		slog.Int("products", report.Products),
		slog.Int("published", report.Published),
		slog.Int("held", report.Held),
		slog.Int("experiments", report.Experiments),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// LatestProposal returns the newest proposal for a product.
func (s *PricingService) LatestProposal(ctx context.Context, productID string) (domain.PriceProposal, error) {
	p, err := s.proposals.GetLatest(ctx, productID)
	if err != nil {
		return domain.PriceProposal{}, fmt.Errorf("pricing_service: latest proposal %s: %w", productID, err)
	}
	return p, nil
}

// ProposalHistory returns proposals for a product, newest first.
func (s *PricingService) ProposalHistory(ctx context.Context, productID string, opts domain.ListOpts) ([]domain.PriceProposal, error) {
	ps, err := s.proposals.ListByProduct(ctx, productID, opts)
	if err != nil {
		return nil, fmt.Errorf("pricing_service: proposal history %s: %w", productID, err)
	}
	return ps, nil
}
