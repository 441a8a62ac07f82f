package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oscarmtz/pricebot/internal/domain"
	"github.com/oscarmtz/pricebot/internal/sheets"
)

// SheetService drives the operator CSV round-trips: cost-override imports
// and proposal/experiment report exports.
type SheetService struct {
	catalog     *CatalogService
	products    domain.ProductStore
	proposals   domain.ProposalStore
	experiments domain.ExperimentStore
	logger      *slog.Logger

	importPath string
	exportDir  string
}

// NewSheetService creates a SheetService. importPath is the cost-override
// sheet location; exportDir receives dated report files.
func NewSheetService(
	catalog *CatalogService,
	products domain.ProductStore,
	proposals domain.ProposalStore,
	experiments domain.ExperimentStore,
	importPath, exportDir string,
	logger *slog.Logger,
) *SheetService {
	return &SheetService{
		catalog:     catalog,
		products:    products,
		proposals:   proposals,
		experiments: experiments,
		logger:      logger.With(slog.String("component", "sheet_service")),
		importPath:  importPath,
		exportDir:   exportDir,
	}
}

// ImportCostOverrides reads the configured cost-override sheet and applies
// it. The sheet must parse completely before any row is applied; per-row
// apply failures are reported in the returned count and logged.
func (s *SheetService) ImportCostOverrides(ctx context.Context) (int, error) {
	f, err := os.Open(s.importPath)
	if err != nil {
		return 0, fmt.Errorf("sheet_service: open %s: %w", s.importPath, err)
	}
	defer f.Close()

	overrides, err := sheets.ReadCostOverrides(f)
	if err != nil {
		return 0, fmt.Errorf("sheet_service: parse %s: %w", s.importPath, err)
	}

	applied, errs := s.catalog.ApplyCostOverrides(ctx, overrides)
	for _, e := range errs {
		s.logger.WarnContext(ctx, "cost override row failed", slog.String("error", e.Error()))
	}

	s.logger.InfoContext(ctx, "cost overrides imported",
		slog.String("path", s.importPath),
		slog.Int("rows", len(overrides)),
		slog.Int("applied", applied),
	)
	return applied, nil
}

// ExportProposals writes the latest proposal per active product to a dated
// CSV in the export directory and returns the file path.
func (s *SheetService) ExportProposals(ctx context.Context) (string, error) {
	products, err := s.products.ListActive(ctx, domain.ListOpts{})
	if err != nil {
		return "", fmt.Errorf("sheet_service: list active: %w", err)
	}

	var proposals []domain.PriceProposal
	for _, p := range products {
		prop, err := s.proposals.GetLatest(ctx, p.ID)
		if err != nil {
			// Products never priced yet simply have no row.
			continue
		}
		proposals = append(proposals, prop)
	}

	path := filepath.Join(s.exportDir, fmt.Sprintf("proposals-%s.csv", time.Now().UTC().Format("2006-01-02")))
	if err := s.writeSheet(path, func(f *os.File) error {
		return sheets.WriteProposals(f, proposals)
	}); err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "proposals exported",
		slog.String("path", path),
		slog.Int("rows", len(proposals)),
	)
	return path, nil
}

// ExportExperiments writes running and concluded experiments to a dated CSV
// in the export directory and returns the file path.
func (s *SheetService) ExportExperiments(ctx context.Context) (string, error) {
	var all []domain.Experiment
	for _, status := range []domain.ExperimentStatus{domain.ExperimentRunning, domain.ExperimentConcluded} {
		exps, err := s.experiments.ListByStatus(ctx, status, domain.ListOpts{})
		if err != nil {
			return "", fmt.Errorf("sheet_service: list %s: %w", status, err)
		}
		all = append(all, exps...)
	}

	path := filepath.Join(s.exportDir, fmt.Sprintf("experiments-%s.csv", time.Now().UTC().Format("2006-01-02")))
	if err := s.writeSheet(path, func(f *os.File) error {
		return sheets.WriteExperiments(f, all)
	}); err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "experiments exported",
		slog.String("path", path),
		slog.Int("rows", len(all)),
	)
	return path, nil
}

func (s *SheetService) writeSheet(path string, write func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("sheet_service: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sheet_service: create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("sheet_service: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sheet_service: close %s: %w", path, err)
	}
	return nil
}
