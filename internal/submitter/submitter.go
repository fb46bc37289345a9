// Package submitter turns a canonical payload into a ledger-anchored proof
// transaction: hash on-ledger, full body off-ledger, one submit call.
package submitter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/veridrop/veridrop/internal/faults"
	"github.com/veridrop/veridrop/internal/identity"
	"github.com/veridrop/veridrop/internal/ledger"
	"github.com/veridrop/veridrop/internal/metrics"
	"github.com/veridrop/veridrop/internal/models"
)

// ArchiveReader is the slice of the off-chain store adapter the submitter
// needs: mock-mode preset hydration only.
type ArchiveReader interface {
	Get(ctx context.Context, contentHash string) (*models.Payload, error)
}

// Options select the submission mode and bounds.
type Options struct {
	BlockWindow     uint64
	ConfirmTimeout  time.Duration
	ConfirmInterval time.Duration

	// MockMode short-circuits the ledger entirely; MockPresetHash reuses a
	// known transaction hash instead of synthesizing one.
	MockMode       bool
	MockPresetHash string
}

// Submitter submits payloads to the ledger transport and normalizes the
// response into the canonical ProofTransaction.
type Submitter struct {
	transport ledger.Transport
	signer    identity.Signer
	archive   ArchiveReader
	opts      Options
}

// New builds a Submitter. transport may be nil in mock mode; archive may be
// nil when no preset hydration is wanted.
func New(transport ledger.Transport, signer identity.Signer, archive ArchiveReader, opts Options) *Submitter {
	if opts.ConfirmInterval <= 0 {
		opts.ConfirmInterval = 2 * time.Second
	}
	return &Submitter{transport: transport, signer: signer, archive: archive, opts: opts}
}

// submitRequest is the wire form of one proof submission. The node anchors
// the hash and relays the body to its own off-ledger peers; archival in the
// secondary store is still a separate explicit step.
type submitRequest struct {
	PayloadHash   string `json:"payload_hash"`
	PayloadSchema string `json:"payload_schema"`
	Body          string `json:"body"`
	Signer        string `json:"signer"`
	Signature     string `json:"signature"`
	BlockWindow   string `json:"block_window"`
}

// Submit anchors the payload on the ledger and returns the normalized
// transaction. In mock mode it fabricates a structurally valid transaction
// instead.
func (s *Submitter) Submit(ctx context.Context, p *models.Payload) (*models.ProofTransaction, error) {
	if s.opts.MockMode {
		tx, err := s.mockTransaction(ctx, p)
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.ProofsSubmitted.WithLabelValues("mock", status).Inc()
		return tx, err
	}

	start := time.Now()
	tx, err := s.submitLive(ctx, p)
	metrics.SubmitDuration.Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ProofsSubmitted.WithLabelValues("live", status).Inc()
	return tx, err
}

func (s *Submitter) submitLive(ctx context.Context, p *models.Payload) (*models.ProofTransaction, error) {
	req := submitRequest{
		PayloadHash:   p.ContentHash,
		PayloadSchema: p.Schema,
		Body:          base64.StdEncoding.EncodeToString(p.Body),
		Signer:        s.signer.Address(),
		Signature:     base64.StdEncoding.EncodeToString(s.signer.Sign([]byte(p.ContentHash))),
		BlockWindow:   fmt.Sprintf("%d", s.opts.BlockWindow),
	}
	params, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode submit request: %w", err)
	}

	raw, err := s.transport.Submit(ctx, params)
	if err != nil {
		return nil, faults.Transient("ledger submit", err)
	}

	normalized, err := Normalize(raw)
	if err != nil {
		return nil, err
	}

	tx := normalized.Transaction(s.opts.BlockWindow)
	// The signer set must include us even when the node's response elides it.
	if len(tx.SignerAddresses) == 0 {
		tx.SignerAddresses = []string{s.signer.Address()}
		tx.PreviousReferences = make([]*string, 1)
	}
	if len(tx.PayloadHashes) == 0 {
		tx.PayloadHashes = []string{p.ContentHash}
		tx.PayloadSchemas = []string{p.Schema}
	}

	s.awaitConfirmation(ctx, tx)
	return tx, nil
}

// awaitConfirmation polls the ledger for the transaction's confirmed block
// within the configured bound. A missing confirmation is logged and
// tolerated: the hash is already a valid handle, so the proof stands as
// unconfirmed-but-accepted.
func (s *Submitter) awaitConfirmation(ctx context.Context, tx *models.ProofTransaction) {
	deadline := time.Now().Add(s.opts.ConfirmTimeout)
	for time.Now().Before(deadline) {
		raw, err := s.transport.TxByHash(ctx, tx.TransactionHash)
		if err == nil {
			if height, ok := confirmedHeight(raw); ok {
				tx.ConfirmedBlockNumber = &height
				metrics.Confirmations.WithLabelValues("confirmed").Inc()
				slog.Info("Proof confirmed", "hash", tx.TransactionHash, "height", height)
				return
			}
		} else if !faults.IsTransient(err) {
			break
		}

		select {
		case <-ctx.Done():
			metrics.Confirmations.WithLabelValues("unconfirmed").Inc()
			return
		case <-time.After(s.opts.ConfirmInterval):
		}
	}
	metrics.Confirmations.WithLabelValues("unconfirmed").Inc()
	slog.Warn("Proof not confirmed within bound, accepting by hash", "hash", tx.TransactionHash, "timeout", s.opts.ConfirmTimeout)
}

// confirmedHeight extracts a confirmed block number from a query-by-hash
// response. Versions disagree on the key and on string vs. number heights.
func confirmedHeight(raw []byte) (uint64, bool) {
	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return 0, false
	}
	for _, key := range []string{"confirmed_height", "height", "block_number"} {
		field, ok := data[key]
		if !ok {
			continue
		}
		var asString string
		if err := json.Unmarshal(field, &asString); err == nil {
			var height uint64
			if _, err := fmt.Sscanf(asString, "%d", &height); err == nil && height > 0 {
				return height, true
			}
			continue
		}
		var asNumber uint64
		if err := json.Unmarshal(field, &asNumber); err == nil && asNumber > 0 {
			return asNumber, true
		}
	}
	return 0, false
}
