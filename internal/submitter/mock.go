package submitter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/veridrop/veridrop/internal/models"
	"github.com/veridrop/veridrop/internal/payload"
)

// mockTransaction fabricates a structurally valid transaction without
// touching the ledger. A configured preset hash is reused as-is (hydrated
// with real archived data when the store is reachable); otherwise the hash
// is synthesized deterministically from the event's identity fields.
func (s *Submitter) mockTransaction(ctx context.Context, p *models.Payload) (*models.ProofTransaction, error) {
	tx := &models.ProofTransaction{
		SignerAddresses:    []string{s.signer.Address()},
		PreviousReferences: make([]*string, 1),
		PayloadHashes:      []string{p.ContentHash},
		PayloadSchemas:     []string{p.Schema},
		BlockWindow:        s.opts.BlockWindow,
		IsMocked:           true,
	}

	if s.opts.MockPresetHash != "" {
		tx.TransactionHash = s.opts.MockPresetHash
		s.hydratePreset(ctx, tx)
		return tx, nil
	}

	body, err := payload.Parse(p)
	if err != nil {
		return nil, fmt.Errorf("failed to derive mock hash: %w", err)
	}
	tx.TransactionHash = MockHash(body.DeliveryID, body.Timestamp, body.Latitude, body.Longitude)
	return tx, nil
}

// hydratePreset swaps the fabricated payload references for the archived
// ones when the preset hash resolves in the off-chain store. Unreachable or
// empty stores leave the fabricated transaction untouched.
func (s *Submitter) hydratePreset(ctx context.Context, tx *models.ProofTransaction) {
	if s.archive == nil {
		return
	}
	archived, err := s.archive.Get(ctx, s.opts.MockPresetHash)
	if err != nil || archived == nil {
		slog.Debug("Mock preset not hydratable from archive", "hash", s.opts.MockPresetHash, "error", err)
		return
	}
	tx.PayloadHashes = []string{archived.ContentHash}
	tx.PayloadSchemas = []string{archived.Schema}
}

// MockHash derives the deterministic mock transaction hash from the four
// identity fields of an event. Floats use the shortest exact decimal form
// so equal coordinates always hash equally.
func MockHash(deliveryID string, timestamp int64, lat, lon float64) string {
	seed := fmt.Sprintf("%s|%d|%s|%s",
		deliveryID,
		timestamp,
		strconv.FormatFloat(lat, 'f', -1, 64),
		strconv.FormatFloat(lon, 'f', -1, 64),
	)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}
