package experiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/oscarmtz/pricebot/internal/domain"
)

// fakeStore is an in-memory ExperimentStore covering the subset the manager
// touches.
type fakeStore struct {
	experiments map[string]domain.Experiment
	applied     map[string]bool
	updateErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		experiments: make(map[string]domain.Experiment),
		applied:     make(map[string]bool),
	}
}

func (s *fakeStore) Create(_ context.Context, e domain.Experiment) error {
	if _, ok := s.experiments[e.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.experiments[e.ID] = cloneExperiment(e)
	return nil
}

func (s *fakeStore) Update(_ context.Context, e domain.Experiment) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	if _, ok := s.experiments[e.ID]; !ok {
		return domain.ErrNotFound
	}
	s.experiments[e.ID] = cloneExperiment(e)
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (domain.Experiment, error) {
	e, ok := s.experiments[id]
	if !ok {
		return domain.Experiment{}, domain.ErrNotFound
	}
	return cloneExperiment(e), nil
}

func (s *fakeStore) GetOpenByProduct(_ context.Context, productID string) (domain.Experiment, error) {
	for _, e := range s.experiments {
		if e.ProductID == productID &&
			(e.Status == domain.ExperimentPlanned || e.Status == domain.ExperimentRunning) {
			return cloneExperiment(e), nil
		}
	}
	return domain.Experiment{}, domain.ErrNotFound
}

func (s *fakeStore) ListByStatus(_ context.Context, status domain.ExperimentStatus, _ domain.ListOpts) ([]domain.Experiment, error) {
	var out []domain.Experiment
	for _, e := range s.experiments {
		if e.Status == status {
			out = append(out, cloneExperiment(e))
		}
	}
	return out, nil
}

func (s *fakeStore) MarkEventApplied(_ context.Context, experimentID, eventID string) (bool, error) {
	key := experimentID + "/" + eventID
	if s.applied[key] {
		return false, nil
	}
	s.applied[key] = true
	return true, nil
}

func (s *fakeStore) ListConcludedBefore(_ context.Context, before time.Time) ([]domain.Experiment, error) {
	var out []domain.Experiment
	for _, e := range s.experiments {
		if e.Status == domain.ExperimentConcluded && e.EndedAt != nil && e.EndedAt.Before(before) {
			out = append(out, cloneExperiment(e))
		}
	}
	return out, nil
}

func cloneExperiment(e domain.Experiment) domain.Experiment {
	e.Variants = append([]domain.PriceVariant(nil), e.Variants...)
	return e
}

var _ domain.ExperimentStore = (*fakeStore)(nil)

// fakeRefCache records reference price writes.
type fakeRefCache struct {
	prices map[string]float64
	setErr error
}

func newFakeRefCache() *fakeRefCache {
	return &fakeRefCache{prices: make(map[string]float64)}
}

func (c *fakeRefCache) Set(_ context.Context, productID string, price float64, _ time.Time) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.prices[productID] = price
	return nil
}

func (c *fakeRefCache) Get(_ context.Context, productID string) (float64, time.Time, error) {
	p, ok := c.prices[productID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Time{}, nil
}

func (c *fakeRefCache) Invalidate(_ context.Context, productID string) error {
	delete(c.prices, productID)
	return nil
}

var _ domain.ReferencePriceCache = (*fakeRefCache)(nil)

func testVariants() []domain.PriceVariant {
	return []domain.PriceVariant{
		{ID: "var-a", Price: 14.99, Weight: 0.5},
		{ID: "var-b", Price: 15.49, Weight: 0.5},
	}
}

func newTestManager(t *testing.T, store *fakeStore, refs *fakeRefCache) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := NewManager(store, refs, Config{MinSampleSize: 100, Confidence: 0.95}, logger)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

// startRunning plans and activates an experiment with the given variants.
func startRunning(t *testing.T, m *Manager, variants []domain.PriceVariant) domain.Experiment {
	t.Helper()
	ctx := context.Background()
	exp, err := m.Plan(ctx, "prod-1", variants)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	exp, err = m.Activate(ctx, exp.ID)
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	return exp
}

func TestNewManager_ConfigValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero sample size", Config{MinSampleSize: 0, Confidence: 0.95}},
		{"confidence too low", Config{MinSampleSize: 100, Confidence: 0.5}},
		{"confidence at 1", Config{MinSampleSize: 100, Confidence: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewManager(newFakeStore(), newFakeRefCache(), tc.cfg, logger); err == nil {
				t.Error("NewManager accepted invalid config")
			}
		})
	}
}

func TestPlan_Validation(t *testing.T) {
	m := newTestManager(t, newFakeStore(), newFakeRefCache())
	ctx := context.Background()

	cases := []struct {
		name     string
		variants []domain.PriceVariant
	}{
		{"single variant", []domain.PriceVariant{{ID: "a", Price: 10, Weight: 1}}},
		{"zero price", []domain.PriceVariant{{Price: 0, Weight: 0.5}, {Price: 11, Weight: 0.5}}},
		{"zero weight", []domain.PriceVariant{{Price: 10, Weight: 0}, {Price: 11, Weight: 1}}},
		{"weights do not sum to 1", []domain.PriceVariant{{Price: 10, Weight: 0.5}, {Price: 11, Weight: 0.6}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := m.Plan(ctx, "prod-1", tc.variants); err == nil {
				t.Error("Plan accepted invalid variants")
			}
		})
	}
}

func TestPlan_AssignsIDsAndStartsPlanned(t *testing.T) {
	m := newTestManager(t, newFakeStore(), newFakeRefCache())

	exp, err := m.Plan(context.Background(), "prod-1", []domain.PriceVariant{
		{Price: 14.99, Weight: 0.5},
		{Price: 15.49, Weight: 0.5},
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if exp.Status != domain.ExperimentPlanned {
		t.Errorf("Status = %s, want planned", exp.Status)
	}
	if exp.ID == "" {
		t.Error("experiment ID not assigned")
	}
	for i, v := range exp.Variants {
		if v.ID == "" {
			t.Errorf("variant %d ID not assigned", i)
		}
	}
}

func TestActivate_Transitions(t *testing.T) {
	m := newTestManager(t, newFakeStore(), newFakeRefCache())
	ctx := context.Background()

	exp, err := m.Plan(ctx, "prod-1", testVariants())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	exp, err = m.Activate(ctx, exp.ID)
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if exp.Status != domain.ExperimentRunning {
		t.Errorf("Status = %s, want running", exp.Status)
	}
	if exp.StartedAt == nil {
		t.Error("StartedAt not set")
	}

	// Activating twice is a state error.
	if _, err := m.Activate(ctx, exp.ID); err == nil {
		t.Error("Activate accepted a running experiment")
	}
}

func TestAbort_Transitions(t *testing.T) {
	m := newTestManager(t, newFakeStore(), newFakeRefCache())
	ctx := context.Background()

	// Abort from PLANNED.
	exp, err := m.Plan(ctx, "prod-1", testVariants())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	exp, err = m.Abort(ctx, exp.ID, "product delisted")
	if err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if exp.Status != domain.ExperimentAborted || exp.AbortReason != "product delisted" {
		t.Errorf("aborted experiment = %s/%q", exp.Status, exp.AbortReason)
	}
	if exp.EndedAt == nil {
		t.Error("EndedAt not set on abort")
	}

	// Terminal states cannot be aborted again.
	if _, err := m.Abort(ctx, exp.ID, "again"); err == nil {
		t.Error("Abort accepted a terminal experiment")
	}

	// Abort from RUNNING.
	exp2 := startRunning(t, m, testVariants())
	exp2, err = m.Abort(ctx, exp2.ID, "traffic reallocation")
	if err != nil {
		t.Fatalf("Abort from running failed: %v", err)
	}
	if exp2.Status != domain.ExperimentAborted {
		t.Errorf("Status = %s, want aborted", exp2.Status)
	}
}

func TestApplyOutcome_RejectsNonRunning(t *testing.T) {
	m := newTestManager(t, newFakeStore(), newFakeRefCache())
	ctx := context.Background()

	exp, err := m.Plan(ctx, "prod-1", testVariants())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	_, _, err = m.ApplyOutcome(ctx, domain.OutcomeEvent{
		ID: "ev-1", ExperimentID: exp.ID, VariantID: "var-a", Impressions: 10, Conversions: 1,
	})
	if !errors.Is(err, domain.ErrExperimentNotRunning) {
		t.Errorf("ApplyOutcome error = %v, want ErrExperimentNotRunning", err)
	}
}

func TestApplyOutcome_Accumulates(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, newFakeRefCache())
	ctx := context.Background()
	exp := startRunning(t, m, testVariants())

	_, concluded, err := m.ApplyOutcome(ctx, domain.OutcomeEvent{
		ID: "ev-1", ExperimentID: exp.ID, VariantID: "var-a",
		Impressions: 50, Conversions: 5, Revenue: 74.95,
	})
	if err != nil {
		t.Fatalf("ApplyOutcome failed: %v", err)
	}
	if concluded {
		t.Error("concluded below min sample size")
	}

	got, err := store.GetByID(ctx, exp.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	v, _ := got.Variant("var-a")
	if v.Impressions != 50 || v.Conversions != 5 || v.Revenue != 74.95 {
		t.Errorf("variant counters = %d/%d/%.2f, want 50/5/74.95", v.Impressions, v.Conversions, v.Revenue)
	}
}

func TestApplyOutcome_DuplicateEventIgnored(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, newFakeRefCache())
	ctx := context.Background()
	exp := startRunning(t, m, testVariants())

	ev := domain.OutcomeEvent{
		ID: "ev-1", ExperimentID: exp.ID, VariantID: "var-a",
		Impressions: 50, Conversions: 5,
	}
	if _, _, err := m.ApplyOutcome(ctx, ev); err != nil {
		t.Fatalf("ApplyOutcome failed: %v", err)
	}
	// Replayed delivery of the same event ID.
	if _, _, err := m.ApplyOutcome(ctx, ev); err != nil {
		t.Fatalf("ApplyOutcome replay failed: %v", err)
	}

	got, _ := store.GetByID(ctx, exp.ID)
	v, _ := got.Variant("var-a")
	if v.Impressions != 50 || v.Conversions != 5 {
		t.Errorf("counters after replay = %d/%d, want 50/5 (applied once)", v.Impressions, v.Conversions)
	}
}

func TestApplyOutcome_InvalidEvents(t *testing.T) {
	m := newTestManager(t, newFakeStore(), newFakeRefCache())
	ctx := context.Background()
	exp := startRunning(t, m, testVariants())

	cases := []struct {
		name string
		ev   domain.OutcomeEvent
	}{
		{"unknown variant", domain.OutcomeEvent{ID: "e1", ExperimentID: exp.ID, VariantID: "nope", Impressions: 1}},
		{"negative impressions", domain.OutcomeEvent{ID: "e2", ExperimentID: exp.ID, VariantID: "var-a", Impressions: -1}},
		{"conversions exceed impressions", domain.OutcomeEvent{ID: "e3", ExperimentID: exp.ID, VariantID: "var-a", Impressions: 5, Conversions: 6}},
		{"unknown experiment", domain.OutcomeEvent{ID: "e4", ExperimentID: "missing", VariantID: "var-a", Impressions: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := m.ApplyOutcome(ctx, tc.ev); err == nil {
				t.Error("ApplyOutcome accepted invalid event")
			}
		})
	}
}

func TestApplyOutcome_NeverConcludesBelowMinSample(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, newFakeRefCache())
	ctx := context.Background()
	exp := startRunning(t, m, testVariants())

	// Extreme difference, but var-b has only 50 impressions (< 100).
	events := []domain.OutcomeEvent{
		{ID: "e1", ExperimentID: exp.ID, VariantID: "var-a", Impressions: 500, Conversions: 250},
		{ID: "e2", ExperimentID: exp.ID, VariantID: "var-b", Impressions: 50, Conversions: 0},
	}
	for _, ev := range events {
		_, concluded, err := m.ApplyOutcome(ctx, ev)
		if err != nil {
			t.Fatalf("ApplyOutcome failed: %v", err)
		}
		if concluded {
			t.Fatal("concluded while a variant was below min sample size")
		}
	}

	got, _ := store.GetByID(ctx, exp.ID)
	if got.Status != domain.ExperimentRunning {
		t.Errorf("Status = %s, want still running", got.Status)
	}
}

func TestApplyOutcome_ConcludesOnSignificance(t *testing.T) {
	store := newFakeStore()
	refs := newFakeRefCache()
	m := newTestManager(t, store, refs)
	ctx := context.Background()
	exp := startRunning(t, m, testVariants())

	// 30/100 vs 10/100: z ~ 3.54 >= 1.645, so this concludes.
	if _, _, err := m.ApplyOutcome(ctx, domain.OutcomeEvent{
		ID: "e1", ExperimentID: exp.ID, VariantID: "var-b", Impressions: 100, Conversions: 10,
	}); err != nil {
		t.Fatalf("ApplyOutcome failed: %v", err)
	}
	got, concluded, err := m.ApplyOutcome(ctx, domain.OutcomeEvent{
		ID: "e2", ExperimentID: exp.ID, VariantID: "var-a", Impressions: 100, Conversions: 30,
	})
	if err != nil {
		t.Fatalf("ApplyOutcome failed: %v", err)
	}
	if !concluded {
		t.Fatal("expected conclusion at z ~ 3.54")
	}
	if got.Status != domain.ExperimentConcluded {
		t.Errorf("Status = %s, want concluded", got.Status)
	}
	if got.WinnerID != "var-a" {
		t.Errorf("WinnerID = %s, want var-a", got.WinnerID)
	}
	if got.EndedAt == nil {
		t.Error("EndedAt not set on conclusion")
	}

	// The winning price feeds back as the product's reference price.
	if refs.prices["prod-1"] != 14.99 {
		t.Errorf("reference price = %v, want winner price 14.99", refs.prices["prod-1"])
	}

	// Outcome events after conclusion are rejected, not accumulated.
	if _, _, err := m.ApplyOutcome(ctx, domain.OutcomeEvent{
		ID: "e3", ExperimentID: exp.ID, VariantID: "var-a", Impressions: 10, Conversions: 1,
	}); !errors.Is(err, domain.ErrExperimentNotRunning) {
		t.Errorf("post-conclusion ApplyOutcome error = %v, want ErrExperimentNotRunning", err)
	}
}

func TestApplyOutcome_NoConclusionWithoutSignificance(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, newFakeRefCache())
	ctx := context.Background()
	exp := startRunning(t, m, testVariants())

	// 12/100 vs 10/100: well under the critical z, keeps running.
	if _, _, err := m.ApplyOutcome(ctx, domain.OutcomeEvent{
		ID: "e1", ExperimentID: exp.ID, VariantID: "var-a", Impressions: 100, Conversions: 12,
	}); err != nil {
		t.Fatalf("ApplyOutcome failed: %v", err)
	}
	got, concluded, err := m.ApplyOutcome(ctx, domain.OutcomeEvent{
		ID: "e2", ExperimentID: exp.ID, VariantID: "var-b", Impressions: 100, Conversions: 10,
	})
	if err != nil {
		t.Fatalf("ApplyOutcome failed: %v", err)
	}
	if concluded || got.Status != domain.ExperimentRunning {
		t.Errorf("concluded=%v status=%s, want running without significance", concluded, got.Status)
	}
}

func TestApplyOutcome_ConclusionSurvivesCacheFailure(t *testing.T) {
	store := newFakeStore()
	refs := newFakeRefCache()
	refs.setErr = fmt.Errorf("redis down")
	m := newTestManager(t, store, refs)
	ctx := context.Background()
	exp := startRunning(t, m, testVariants())

	for _, ev := range []domain.OutcomeEvent{
		{ID: "e1", ExperimentID: exp.ID, VariantID: "var-b", Impressions: 100, Conversions: 10},
		{ID: "e2", ExperimentID: exp.ID, VariantID: "var-a", Impressions: 100, Conversions: 30},
	} {
		if _, _, err := m.ApplyOutcome(ctx, ev); err != nil {
			t.Fatalf("ApplyOutcome failed: %v", err)
		}
	}

	got, _ := store.GetByID(ctx, exp.ID)
	if got.Status != domain.ExperimentConcluded {
		t.Errorf("Status = %s, want concluded even when the cache write fails", got.Status)
	}
}
