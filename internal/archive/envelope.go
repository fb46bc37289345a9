package archive

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veridrop/veridrop/internal/models"
)

// envelopeQuery is one operation inside a signed envelope.
type envelopeQuery struct {
	Schema   string            `json:"schema"`
	Payloads []*models.Payload `json:"payloads,omitempty"`
	Hashes   []string          `json:"hashes,omitempty"`
}

// envelopeBody is signed as a whole: the signature covers the canonical
// serialization of every other field.
type envelopeBody struct {
	ID        string          `json:"id"`
	Address   string          `json:"address"`
	Timestamp int64           `json:"timestamp"`
	Queries   []envelopeQuery `json:"queries"`
	Signature string          `json:"signature,omitempty"`
}

type queryEnvelope struct {
	Envelope envelopeBody `json:"envelope"`
}

// buildEnvelope wraps queries in a freshly signed envelope.
func (a *Adapter) buildEnvelope(queries ...envelopeQuery) (*queryEnvelope, error) {
	body := envelopeBody{
		ID:        uuid.NewString(),
		Address:   a.signer.Address(),
		Timestamp: time.Now().UnixMilli(),
		Queries:   queries,
	}

	canonical, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query envelope: %w", err)
	}
	body.Signature = base64.StdEncoding.EncodeToString(a.signer.Sign(canonical))

	return &queryEnvelope{Envelope: body}, nil
}

// storeAck is the first element of every store response.
type storeAck struct {
	ID          string `json:"id"`
	StoreTxHash string `json:"store_tx_hash"`
}

// storeResponse is the decoded three-element store reply:
// [acknowledgement, payloads[], errors[]].
type storeResponse struct {
	Ack      storeAck
	Payloads []*models.Payload
	Errors   []string
}

func parseStoreResponse(raw []byte) (*storeResponse, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, fmt.Errorf("failed to decode store response: %w", err)
	}
	if len(elements) < 3 {
		return nil, fmt.Errorf("store response has %d elements, want 3", len(elements))
	}

	var resp storeResponse
	if err := json.Unmarshal(elements[0], &resp.Ack); err != nil {
		return nil, fmt.Errorf("failed to decode store acknowledgement: %w", err)
	}
	if err := json.Unmarshal(elements[1], &resp.Payloads); err != nil {
		return nil, fmt.Errorf("failed to decode store payloads: %w", err)
	}
	if err := json.Unmarshal(elements[2], &resp.Errors); err != nil {
		return nil, fmt.Errorf("failed to decode store errors: %w", err)
	}
	return &resp, nil
}
