package models

import "time"

// Delivery statuses as persisted by the persistence collaborator.
const (
	StatusPending   = "PENDING"
	StatusDelivered = "DELIVERED"
	StatusFailed    = "FAILED"
)

// DeliveryEvent is a raw delivery occurrence as reported by the upstream
// route layer. Immutable once handed to the payload builder; timestamps are
// Unix milliseconds.
type DeliveryEvent struct {
	DeliveryID string   `json:"delivery_id"`
	DriverID   string   `json:"driver_id"`
	OrderID    string   `json:"order_id"`
	Timestamp  int64    `json:"timestamp"`
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	Altitude   *float64 `json:"altitude,omitempty"`
	Speed      *float64 `json:"speed,omitempty"`
	Heading    *float64 `json:"heading,omitempty"`
	NFCTagID   string   `json:"nfc_tag_id,omitempty"`

	// Content hashes of externally stored evidence (photos, signatures).
	EvidenceHashes []string `json:"evidence_hashes,omitempty"`
}

// Payload is the canonical serialization of a DeliveryEvent plus its content
// hash. The content hash is a pure function of Body: identical events produce
// identical hashes, and archive lookups key on it.
type Payload struct {
	Schema      string `json:"schema"`
	Body        []byte `json:"body"`
	ContentHash string `json:"content_hash"`
}

// ProofTransaction is the canonical form of a ledger-anchored proof. After
// normalization PreviousReferences is index-aligned with SignerAddresses;
// entry i holds the prior transaction hash signed by SignerAddresses[i], or
// nil when that signer has no prior.
type ProofTransaction struct {
	TransactionHash      string    `json:"transaction_hash"`
	SignerAddresses      []string  `json:"signer_addresses"`
	PreviousReferences   []*string `json:"previous_references"`
	PayloadHashes        []string  `json:"payload_hashes"`
	PayloadSchemas       []string  `json:"payload_schemas"`
	BlockWindow          uint64    `json:"block_window"`
	ConfirmedBlockNumber *uint64   `json:"confirmed_block_number,omitempty"`
	IsMocked             bool      `json:"is_mocked,omitempty"`
}

// Clone returns a deep copy. The chain linker mutates the locally retained
// copy only; callers keep the ledger-reported original intact by cloning.
func (t *ProofTransaction) Clone() *ProofTransaction {
	if t == nil {
		return nil
	}
	c := *t
	c.SignerAddresses = append([]string(nil), t.SignerAddresses...)
	c.PayloadHashes = append([]string(nil), t.PayloadHashes...)
	c.PayloadSchemas = append([]string(nil), t.PayloadSchemas...)
	c.PreviousReferences = make([]*string, len(t.PreviousReferences))
	for i, ref := range t.PreviousReferences {
		if ref != nil {
			v := *ref
			c.PreviousReferences[i] = &v
		}
	}
	if t.ConfirmedBlockNumber != nil {
		n := *t.ConfirmedBlockNumber
		c.ConfirmedBlockNumber = &n
	}
	return &c
}

// Consensus levels reported by cross-verification.
const (
	ConsensusFull    = "full"
	ConsensusPartial = "partial"
	ConsensusReduced = "reduced"
	ConsensusNone    = "none"
)

// Origins of a VerificationResult.
const (
	DerivedFromOracle          = "oracle"
	DerivedFromArchiveFallback = "archive-fallback"
)

// VerificationResult is the outcome of cross-checking a proof against the
// verification oracle (or the archive fallback). Recomputed on demand, never
// treated as authoritative state.
type VerificationResult struct {
	Verified       bool   `json:"verified"`
	Confidence     int    `json:"confidence"`
	ConsensusLevel string `json:"consensus_level"`
	SourceCount    int    `json:"source_count"`
	LocationMatch  bool   `json:"location_match"`
	DerivedFrom    string `json:"derived_from"`
}

// StoredProof is the blob persisted alongside a delivery record: the locally
// retained (chain-augmented) transaction and the full payload.
type StoredProof struct {
	Transaction *ProofTransaction `json:"transaction"`
	Payload     *Payload          `json:"payload"`
}

// DeliveryRecord is the persistence collaborator's view of one verified
// delivery.
type DeliveryRecord struct {
	DriverID    string
	OrderID     string
	ProofHash   string
	StoreTxHash string
	Status      string
	Archived    bool
	VerifiedAt  time.Time
	StoredProof []byte
}

// DriverRecord carries the optional NFC linkage for a driver.
type DriverRecord struct {
	DriverID string
	NFCTagID string
}
