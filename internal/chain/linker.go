// Package chain maintains the per-driver proof chain: each new proof's
// locally retained copy points at the driver's previous DELIVERED proof.
// This application-level chain is distinct from the ledger's own
// address-history chain, which stays immutable and may legitimately diverge.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/veridrop/veridrop/internal/faults"
	"github.com/veridrop/veridrop/internal/metrics"
	"github.com/veridrop/veridrop/internal/models"
)

// DeliveryFinder is the slice of the persistence collaborator the linker
// consumes.
type DeliveryFinder interface {
	// LatestDelivered returns the driver's most recent DELIVERED record,
	// excluding the given order, ordered by verification time descending.
	// nil when the driver has no prior delivery.
	LatestDelivered(ctx context.Context, driverID, excludeOrderID string) (*models.DeliveryRecord, error)
}

// Linker augments locally retained transactions with driver-chain links.
type Linker struct {
	store DeliveryFinder
}

func New(store DeliveryFinder) *Linker {
	return &Linker{store: store}
}

// Link sets the signer's previous-reference slot to the driver's prior
// DELIVERED proof hash and returns the augmented copy. The input transaction
// is never mutated.
//
// Degradation paths return the input unchanged: no prior delivery (chain
// origin), or the signer address missing from the transaction — the latter
// also returns a SignerNotFoundError, which callers treat as a logged
// anomaly rather than a failure.
func (l *Linker) Link(ctx context.Context, tx *models.ProofTransaction, driverID, signerAddr, excludeOrderID string) (*models.ProofTransaction, error) {
	prior, err := l.store.LatestDelivered(ctx, driverID, excludeOrderID)
	if err != nil {
		return tx, fmt.Errorf("failed to query prior delivery for driver %s: %w", driverID, err)
	}
	if prior == nil || prior.ProofHash == "" {
		metrics.ChainLinks.WithLabelValues("origin").Inc()
		slog.Debug("Driver chain origin", "driver", driverID)
		return tx, nil
	}

	signerIndex := indexOfAddress(tx.SignerAddresses, signerAddr)
	if signerIndex < 0 {
		metrics.ChainLinks.WithLabelValues("signer_missing").Inc()
		slog.Warn("Signer address absent from transaction, skipping chain link",
			"driver", driverID, "address", signerAddr, "hash", tx.TransactionHash)
		return tx, &faults.SignerNotFoundError{Address: signerAddr}
	}

	augmented := tx.Clone()
	for len(augmented.PreviousReferences) <= signerIndex {
		augmented.PreviousReferences = append(augmented.PreviousReferences, nil)
	}
	priorHash := prior.ProofHash
	augmented.PreviousReferences[signerIndex] = &priorHash

	metrics.ChainLinks.WithLabelValues("linked").Inc()
	slog.Info("Driver chain linked",
		"driver", driverID, "hash", tx.TransactionHash, "previous", priorHash)
	return augmented, nil
}

// indexOfAddress matches case-insensitively; upstream versions disagree on
// address casing.
func indexOfAddress(addresses []string, addr string) int {
	for i, a := range addresses {
		if strings.EqualFold(a, addr) {
			return i
		}
	}
	return -1
}
