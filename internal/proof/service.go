// Package proof orchestrates the verification flow exposed to the route
// layer: build payload, anchor on the ledger, link the driver chain, persist,
// archive off-chain and cross-verify.
package proof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veridrop/veridrop/internal/archive"
	"github.com/veridrop/veridrop/internal/faults"
	"github.com/veridrop/veridrop/internal/models"
	"github.com/veridrop/veridrop/internal/payload"
	"github.com/veridrop/veridrop/internal/store"
)

// Submitter anchors a payload on the ledger.
type Submitter interface {
	Submit(ctx context.Context, p *models.Payload) (*models.ProofTransaction, error)
}

// Linker augments a transaction with the driver's previous proof hash.
type Linker interface {
	Link(ctx context.Context, tx *models.ProofTransaction, driverID, signerAddr, excludeOrderID string) (*models.ProofTransaction, error)
}

// Archive is the off-chain store surface the service uses. nil when the
// store is disabled by configuration.
type Archive interface {
	Insert(ctx context.Context, payloads []*models.Payload) (archive.InsertResult, error)
	Get(ctx context.Context, contentHash string) (*models.Payload, error)
}

// Verifier recomputes a cross-verification result.
type Verifier interface {
	CrossVerify(ctx context.Context, storeTxHash string, lat, lon float64, timestamp int64) (*models.VerificationResult, error)
}

// Service wires the proof pipeline. One logical flow per verification
// request; concurrent requests share nothing but the persistence
// collaborator.
type Service struct {
	store      store.DeliveryStore
	submitter  Submitter
	linker     Linker
	archive    Archive
	verifier   Verifier
	signerAddr string
}

func NewService(deliveries store.DeliveryStore, submitter Submitter, linker Linker, arch Archive, verifier Verifier, signerAddr string) *Service {
	return &Service{
		store:      deliveries,
		submitter:  submitter,
		linker:     linker,
		archive:    arch,
		verifier:   verifier,
		signerAddr: signerAddr,
	}
}

// SubmissionResult is the outcome of one verified delivery.
type SubmissionResult struct {
	Transaction  *models.ProofTransaction   `json:"transaction"`
	Payload      *models.Payload            `json:"payload"`
	Archived     bool                       `json:"archived"`
	StoreTxHash  string                     `json:"store_tx_hash,omitempty"`
	Verification *models.VerificationResult `json:"verification,omitempty"`
}

// SubmitLocationProof runs the full flow. A failed ledger submission fails
// the whole call: the delivery is never marked verified on partial success.
// A failed archive insert or cross-verification does not block success; the
// ledger commitment is authoritative and the rest corroborates.
func (s *Service) SubmitLocationProof(ctx context.Context, event models.DeliveryEvent) (*SubmissionResult, error) {
	p, err := payload.Build(event)
	if err != nil {
		return nil, err
	}

	s.checkNFCLinkage(ctx, event)

	tx, err := s.submitter.Submit(ctx, p)
	if err != nil {
		s.recordFailure(ctx, event)
		return nil, err
	}

	linked, err := s.linker.Link(ctx, tx, event.DriverID, s.signerAddr, event.OrderID)
	if err != nil {
		var notFound *faults.SignerNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("Chain link failed, keeping unaugmented proof", "order", event.OrderID, "error", err)
		}
		linked = tx
	}

	result := &SubmissionResult{Transaction: linked, Payload: p}
	s.archivePayload(ctx, p, result)

	blob, err := json.Marshal(models.StoredProof{Transaction: linked, Payload: p})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize stored proof: %w", err)
	}
	rec := &models.DeliveryRecord{
		DriverID:    event.DriverID,
		OrderID:     event.OrderID,
		ProofHash:   linked.TransactionHash,
		StoreTxHash: result.StoreTxHash,
		Status:      models.StatusDelivered,
		Archived:    result.Archived,
		VerifiedAt:  time.Now().UTC(),
		StoredProof: blob,
	}
	if err := s.store.UpsertDelivery(ctx, rec); err != nil {
		return nil, err
	}

	if result.StoreTxHash != "" && s.verifier != nil {
		verification, err := s.verifier.CrossVerify(ctx, result.StoreTxHash, event.Latitude, event.Longitude, event.Timestamp)
		if err != nil {
			slog.Warn("Cross-verification failed", "order", event.OrderID, "error", err)
		} else {
			result.Verification = verification
		}
	}

	slog.Info("Location proof submitted",
		"order", event.OrderID, "driver", event.DriverID,
		"hash", linked.TransactionHash, "archived", result.Archived, "mocked", linked.IsMocked)
	return result, nil
}

// archivePayload performs the explicit off-ledger persistence step. Failure
// leaves the proof standing but flagged degraded (Archived=false).
func (s *Service) archivePayload(ctx context.Context, p *models.Payload, result *SubmissionResult) {
	if s.archive == nil {
		return
	}
	res, err := s.archive.Insert(ctx, []*models.Payload{p})
	if err != nil || !res.Success {
		slog.Warn("Off-chain archival failed, proof degraded", "hash", p.ContentHash, "error", err)
		result.StoreTxHash = res.StoreTxHash
		return
	}
	result.Archived = true
	result.StoreTxHash = res.StoreTxHash
}

// checkNFCLinkage logs a tag mismatch between the event and the driver
// record. An anomaly, never a failure.
func (s *Service) checkNFCLinkage(ctx context.Context, event models.DeliveryEvent) {
	if event.NFCTagID == "" {
		return
	}
	driver, err := s.store.DriverByID(ctx, event.DriverID)
	if err != nil || driver == nil {
		return
	}
	if driver.NFCTagID != "" && driver.NFCTagID != event.NFCTagID {
		slog.Warn("NFC tag mismatch",
			"driver", event.DriverID, "expected", driver.NFCTagID, "got", event.NFCTagID)
	}
}

// recordFailure best-effort marks the delivery FAILED so it never reads as
// verified.
func (s *Service) recordFailure(ctx context.Context, event models.DeliveryEvent) {
	rec := &models.DeliveryRecord{
		DriverID:   event.DriverID,
		OrderID:    event.OrderID,
		Status:     models.StatusFailed,
		VerifiedAt: time.Now().UTC(),
	}
	if err := s.store.UpsertDelivery(ctx, rec); err != nil {
		slog.Error("Failed to record failed delivery", "order", event.OrderID, "error", err)
	}
}
