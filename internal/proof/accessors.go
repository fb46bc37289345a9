package proof

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/veridrop/veridrop/internal/models"
	"github.com/veridrop/veridrop/internal/payload"
	"github.com/veridrop/veridrop/internal/store"
)

// ChainEntry is one step of a driver's proof chain, newest first.
type ChainEntry struct {
	ProofHash    string `json:"proof_hash"`
	DriverID     string `json:"driver_id"`
	OrderID      string `json:"order_id"`
	PreviousHash string `json:"previous_hash,omitempty"`
	Archived     bool   `json:"archived"`
	IsMocked     bool   `json:"is_mocked,omitempty"`
}

// GetProofChain walks the driver-identity chain starting at hash, following
// the locally retained previous-reference links through stored records, up
// to depth entries. The walk stops early at the chain origin or when a link
// points at a proof this process never stored.
func (s *Service) GetProofChain(ctx context.Context, hash string, depth int) ([]ChainEntry, error) {
	if depth <= 0 {
		depth = 1
	}

	var entries []ChainEntry
	current := hash
	for i := 0; i < depth; i++ {
		rec, stored, err := s.storedProof(ctx, current)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}

		previous := s.previousHash(stored.Transaction)
		entries = append(entries, ChainEntry{
			ProofHash:    current,
			DriverID:     rec.DriverID,
			OrderID:      rec.OrderID,
			PreviousHash: previous,
			Archived:     rec.Archived,
			IsMocked:     stored.Transaction != nil && stored.Transaction.IsMocked,
		})
		if previous == "" {
			break
		}
		current = previous
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no stored proof for hash %s", hash)
	}
	return entries, nil
}

// CryptographicDetails are the signer, payload and window facts of one
// stored proof.
type CryptographicDetails struct {
	Transaction *models.ProofTransaction `json:"transaction"`
	ContentHash string                   `json:"content_hash"`
	Schema      string                   `json:"schema"`
	StoreTxHash string                   `json:"store_tx_hash,omitempty"`
	Archived    bool                     `json:"archived"`
}

func (s *Service) GetCryptographicDetails(ctx context.Context, hash string) (*CryptographicDetails, error) {
	rec, stored, err := s.storedProof(ctx, hash)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("no stored proof for hash %s", hash)
	}

	details := &CryptographicDetails{
		Transaction: stored.Transaction,
		StoreTxHash: rec.StoreTxHash,
		Archived:    rec.Archived,
	}
	if stored.Payload != nil {
		details.ContentHash = stored.Payload.ContentHash
		details.Schema = stored.Payload.Schema
	}
	return details, nil
}

// GetCrossVerification recomputes the oracle result for a stored proof. The
// outcome is never cached as state.
func (s *Service) GetCrossVerification(ctx context.Context, hash string) (*models.VerificationResult, error) {
	rec, stored, err := s.storedProof(ctx, hash)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("no stored proof for hash %s", hash)
	}
	if s.verifier == nil {
		return nil, fmt.Errorf("cross-verification is not configured")
	}

	body, err := payload.Parse(stored.Payload)
	if err != nil {
		return nil, fmt.Errorf("stored proof %s has no readable payload: %w", hash, err)
	}
	return s.verifier.CrossVerify(ctx, rec.StoreTxHash, body.Latitude, body.Longitude, body.Timestamp)
}

// storedProof loads and decodes one stored record. nil record means the
// hash is unknown.
func (s *Service) storedProof(ctx context.Context, hash string) (*models.DeliveryRecord, *models.StoredProof, error) {
	rec, err := s.store.FindByProofHash(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, nil
	}
	var stored models.StoredProof
	if err := json.Unmarshal(rec.StoredProof, &stored); err != nil {
		return nil, nil, fmt.Errorf("failed to decode stored proof %s: %w", hash, err)
	}
	return rec, &stored, nil
}

// previousHash reads the chain link the linker wrote into our signer's
// slot, falling back to the first non-nil reference for proofs signed under
// an older identity.
func (s *Service) previousHash(tx *models.ProofTransaction) string {
	if tx == nil {
		return ""
	}
	for i, addr := range tx.SignerAddresses {
		if strings.EqualFold(addr, s.signerAddr) && i < len(tx.PreviousReferences) && tx.PreviousReferences[i] != nil {
			return *tx.PreviousReferences[i]
		}
	}
	for _, ref := range tx.PreviousReferences {
		if ref != nil {
			return *ref
		}
	}
	return ""
}

// ArchiveResolver resolves the archived payload behind a store transaction
// hash, preferring the locally stored blob and falling back to the off-chain
// store itself. It feeds the oracle client's archive fallback.
type ArchiveResolver struct {
	store   store.DeliveryStore
	archive Archive
}

func NewArchiveResolver(deliveries store.DeliveryStore, arch Archive) *ArchiveResolver {
	return &ArchiveResolver{store: deliveries, archive: arch}
}

func (r *ArchiveResolver) ArchivedPayload(ctx context.Context, storeTxHash string) (*payload.Body, error) {
	rec, err := r.store.FindByStoreTxHash(ctx, storeTxHash)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("no delivery behind store transaction %s", storeTxHash)
	}

	var stored models.StoredProof
	if err := json.Unmarshal(rec.StoredProof, &stored); err == nil && stored.Payload != nil && len(stored.Payload.Body) > 0 {
		return payload.Parse(stored.Payload)
	}

	// The local blob carries no body; the off-chain store still holds it,
	// keyed by the content hash the transaction anchors.
	contentHash := ""
	if stored.Transaction != nil && len(stored.Transaction.PayloadHashes) > 0 {
		contentHash = stored.Transaction.PayloadHashes[0]
	}
	if r.archive == nil || contentHash == "" {
		return nil, fmt.Errorf("stored proof for %s has no payload", storeTxHash)
	}
	archived, err := r.archive.Get(ctx, contentHash)
	if err != nil {
		return nil, fmt.Errorf("archived payload unavailable for %s: %w", storeTxHash, err)
	}
	if archived == nil {
		return nil, fmt.Errorf("archived payload missing for %s", storeTxHash)
	}
	return payload.Parse(archived)
}
