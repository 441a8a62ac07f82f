package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oscarmtz/pricebot/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only requires the time-ranged query methods it actually calls,
// not the full domain store interfaces. The Postgres stores satisfy these
// implicitly.
// ---------------------------------------------------------------------------

// ProposalArchiveStore provides read access to proposals for archival.
type ProposalArchiveStore interface {
	// ListBefore returns all proposals generated strictly before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.PriceProposal, error)
}

// ListingArchiveStore provides read access to competitor observations for
// archival.
type ListingArchiveStore interface {
	// ListBefore returns all observations made strictly before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.CompetitorListing, error)
}

// ExperimentArchiveStore provides read access to finished experiments for
// archival.
type ExperimentArchiveStore interface {
	// ListConcludedBefore returns all experiments that concluded strictly
	// before the cutoff.
	ListConcludedBefore(ctx context.Context, before time.Time) ([]domain.Experiment, error)
}

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by querying the domain stores for
// old records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer      domain.BlobWriter
	proposals   ProposalArchiveStore
	listings    ListingArchiveStore
	experiments ExperimentArchiveStore
	audit       domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	proposals ProposalArchiveStore,
	listings ListingArchiveStore,
	experiments ExperimentArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:      writer,
		proposals:   proposals,
		listings:    listings,
		experiments: experiments,
		audit:       audit,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveProposals queries all proposals before the cutoff, serializes them
// to JSONL, and uploads the file to S3 at archive/proposals/YYYY-MM.jsonl.
// The archival event is recorded in the audit log and the count of archived
// records is returned.
func (a *ArchiveImpl) ArchiveProposals(ctx context.Context, before time.Time) (int64, error) {
	proposals, err := a.proposals.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive proposals query: %w", err)
	}
	if len(proposals) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(proposals)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive proposals marshal: %w", err)
	}

	path := archivePath("proposals", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive proposals upload: %w", err)
	}

	count := int64(len(proposals))

	if err := a.audit.Log(ctx, "archive.proposals", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive proposals audit log: %w", err)
	}

	return count, nil
}

// ArchiveListings queries all competitor observations before the cutoff,
// serializes them to JSONL, and uploads the file to S3 at
// archive/listings/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveListings(ctx context.Context, before time.Time) (int64, error) {
	listings, err := a.listings.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive listings query: %w", err)
	}
	if len(listings) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(listings)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive listings marshal: %w", err)
	}

	path := archivePath("listings", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive listings upload: %w", err)
	}

	count := int64(len(listings))

	if err := a.audit.Log(ctx, "archive.listings", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive listings audit log: %w", err)
	}

	return count, nil
}

// ArchiveExperiments queries all experiments concluded before the cutoff,
// serializes them to JSONL, and uploads the file to S3 at
// archive/experiments/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveExperiments(ctx context.Context, before time.Time) (int64, error) {
	experiments, err := a.experiments.ListConcludedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive experiments query: %w", err)
	}
	if len(experiments) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(experiments)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive experiments marshal: %w", err)
	}

	path := archivePath("experiments", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive experiments upload: %w", err)
	}

	count := int64(len(experiments))

	if err := a.audit.Log(ctx, "archive.experiments", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive experiments audit log: %w", err)
	}

	return count, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/proposals/2026-08.jsonl
//	archive/listings/2026-08.jsonl
//	archive/experiments/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
