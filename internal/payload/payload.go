// Package payload builds the canonical delivery-event payload anchored on
// the ledger and archived off-chain.
package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/veridrop/veridrop/internal/models"
)

// Schema is the declared payload schema id carried on-ledger and in the
// off-chain archive.
const Schema = "veridrop.payload.delivery.1"

// Body is the canonical wire form of a delivery event. Field order is fixed
// by declaration order, which together with encoding/json's deterministic
// float formatting makes the serialization canonical: identical events yield
// identical bytes and therefore identical content hashes.
type Body struct {
	Schema         string   `json:"schema"`
	DeliveryID     string   `json:"delivery_id"`
	DriverID       string   `json:"driver_id"`
	OrderID        string   `json:"order_id"`
	Timestamp      int64    `json:"timestamp"`
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	Accuracy       *float64 `json:"accuracy,omitempty"`
	Altitude       *float64 `json:"altitude,omitempty"`
	Speed          *float64 `json:"speed,omitempty"`
	Heading        *float64 `json:"heading,omitempty"`
	NFCTagID       string   `json:"nfc_tag_id,omitempty"`
	EvidenceHashes []string `json:"evidence_hashes,omitempty"`
}

// Build assembles the canonical payload for event and computes its content
// hash. Pure: no side effects, and the hash is a function of content alone —
// archive lookups key on it later.
func Build(event models.DeliveryEvent) (*models.Payload, error) {
	if err := validate(event); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(Body{
		Schema:         Schema,
		DeliveryID:     event.DeliveryID,
		DriverID:       event.DriverID,
		OrderID:        event.OrderID,
		Timestamp:      event.Timestamp,
		Latitude:       event.Latitude,
		Longitude:      event.Longitude,
		Accuracy:       event.Accuracy,
		Altitude:       event.Altitude,
		Speed:          event.Speed,
		Heading:        event.Heading,
		NFCTagID:       event.NFCTagID,
		EvidenceHashes: event.EvidenceHashes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}

	sum := sha256.Sum256(raw)
	return &models.Payload{
		Schema:      Schema,
		Body:        raw,
		ContentHash: hex.EncodeToString(sum[:]),
	}, nil
}

// Parse decodes a payload body back into its canonical form. Used by the
// oracle fallback and the reverify sweep to read archived location fields.
func Parse(p *models.Payload) (*Body, error) {
	if p == nil || len(p.Body) == 0 {
		return nil, fmt.Errorf("empty payload body")
	}
	var b Body
	if err := json.Unmarshal(p.Body, &b); err != nil {
		return nil, fmt.Errorf("failed to decode payload body: %w", err)
	}
	return &b, nil
}

// ValidCoordinates reports whether lat/lon form a usable location claim.
// The zero/zero point is treated as missing data, not a real fix.
func ValidCoordinates(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func validate(event models.DeliveryEvent) error {
	switch {
	case event.DeliveryID == "":
		return fmt.Errorf("delivery id is required")
	case event.DriverID == "":
		return fmt.Errorf("driver id is required")
	case event.OrderID == "":
		return fmt.Errorf("order id is required")
	case event.Timestamp <= 0:
		return fmt.Errorf("timestamp must be positive unix milliseconds")
	case !ValidCoordinates(event.Latitude, event.Longitude):
		return fmt.Errorf("coordinates out of range: lat=%v lon=%v", event.Latitude, event.Longitude)
	}
	return nil
}
