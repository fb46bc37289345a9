// Package reverify sweeps DELIVERED records, re-fetches their archived
// payloads and re-runs cross-verification. Operational tooling for spotting
// archive drift and stale oracle corroboration after the fact.
package reverify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/veridrop/veridrop/internal/models"
	"github.com/veridrop/veridrop/internal/payload"
	"github.com/veridrop/veridrop/internal/store"
)

// Archive is the off-chain store surface the sweep reads from.
type Archive interface {
	Get(ctx context.Context, contentHash string) (*models.Payload, error)
}

// Verifier recomputes cross-verification for one record.
type Verifier interface {
	CrossVerify(ctx context.Context, storeTxHash string, lat, lon float64, timestamp int64) (*models.VerificationResult, error)
}

// Report tallies one sweep.
type Report struct {
	Checked        int64
	ArchiveMissing int64
	FallbackOnly   int64
	Corroborated   int64
	Failed         int64
}

// Options bound the sweep.
type Options struct {
	MaxConcurrency int
	BatchSize      int
}

// Sweeper re-verifies stored proofs in bounded-concurrency batches.
type Sweeper struct {
	store    store.DeliveryStore
	archive  Archive
	verifier Verifier
	opts     Options
}

func New(deliveries store.DeliveryStore, archive Archive, verifier Verifier, opts Options) *Sweeper {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 100
	}
	return &Sweeper{store: deliveries, archive: archive, verifier: verifier, opts: opts}
}

// Run walks every DELIVERED record once and returns the tally. Individual
// record failures are counted, not fatal; only a broken record listing stops
// the sweep.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	records, err := s.collect(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("Re-verifying delivered proofs", "count", len(records))
	if len(records) == 0 {
		return &Report{}, nil
	}

	bar := progressbar.NewOptions64(
		int64(len(records)),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetDescription("Re-verifying proofs..."),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	if err := bar.RenderBlank(); err != nil {
		return nil, fmt.Errorf("failed to render progress bar: %w", err)
	}

	var report Report
	eg, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, s.opts.MaxConcurrency)

	for _, rec := range records {
		if ctx.Err() != nil {
			slog.Info("Sweep cancelled by user")
			return nil, ctx.Err()
		}

		record := rec
		sem <- struct{}{}

		eg.Go(func() error {
			defer func() { <-sem }()

			s.checkRecord(ctx, record, &report)
			atomic.AddInt64(&report.Checked, 1)

			if err := bar.Add(1); err != nil {
				slog.Warn("Failed to update progress bar", "error", err)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("error while re-verifying proofs: %w", err)
	}
	if err := bar.Finish(); err != nil {
		return nil, fmt.Errorf("failed to finish progress bar: %w", err)
	}

	slog.Info("Sweep complete",
		"checked", report.Checked,
		"corroborated", report.Corroborated,
		"fallbackOnly", report.FallbackOnly,
		"archiveMissing", report.ArchiveMissing,
		"failed", report.Failed)
	return &report, nil
}

// collect pages through the store until the listing is exhausted.
func (s *Sweeper) collect(ctx context.Context) ([]*models.DeliveryRecord, error) {
	var all []*models.DeliveryRecord
	for offset := 0; ; offset += s.opts.BatchSize {
		page, err := s.store.ListDelivered(ctx, s.opts.BatchSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to list delivered records: %w", err)
		}
		all = append(all, page...)
		if len(page) < s.opts.BatchSize {
			return all, nil
		}
	}
}

func (s *Sweeper) checkRecord(ctx context.Context, rec *models.DeliveryRecord, report *Report) {
	body, ok := s.payloadBody(ctx, rec, report)
	if !ok {
		return
	}

	if rec.StoreTxHash == "" || s.verifier == nil {
		atomic.AddInt64(&report.FallbackOnly, 1)
		return
	}
	result, err := s.verifier.CrossVerify(ctx, rec.StoreTxHash, body.Latitude, body.Longitude, body.Timestamp)
	if err != nil {
		atomic.AddInt64(&report.Failed, 1)
		slog.Warn("Cross-verification failed during sweep", "order", rec.OrderID, "error", err)
		return
	}
	if result.DerivedFrom == models.DerivedFromOracle && result.Verified {
		atomic.AddInt64(&report.Corroborated, 1)
		return
	}
	atomic.AddInt64(&report.FallbackOnly, 1)
}

// payloadBody re-reads the archived payload, falling back to the stored
// blob when the record was never archived.
func (s *Sweeper) payloadBody(ctx context.Context, rec *models.DeliveryRecord, report *Report) (*payload.Body, bool) {
	var stored models.StoredProof
	if err := json.Unmarshal(rec.StoredProof, &stored); err != nil || stored.Payload == nil {
		atomic.AddInt64(&report.Failed, 1)
		slog.Warn("Stored proof unreadable", "order", rec.OrderID, "error", err)
		return nil, false
	}

	if rec.Archived && s.archive != nil {
		archived, err := s.archive.Get(ctx, stored.Payload.ContentHash)
		if err != nil || archived == nil {
			atomic.AddInt64(&report.ArchiveMissing, 1)
			slog.Warn("Archived payload missing", "order", rec.OrderID, "hash", stored.Payload.ContentHash, "error", err)
			return nil, false
		}
		stored.Payload = archived
	}

	body, err := payload.Parse(stored.Payload)
	if err != nil {
		atomic.AddInt64(&report.Failed, 1)
		return nil, false
	}
	return body, true
}
