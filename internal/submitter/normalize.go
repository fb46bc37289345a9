package submitter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/veridrop/veridrop/internal/faults"
	"github.com/veridrop/veridrop/internal/models"
)

// txSchemaPrefix marks a transaction object across upstream versions.
const txSchemaPrefix = "proofnet.tx"

// txBody is the transaction object shape shared by both response forms.
type txBody struct {
	Schema         string    `json:"schema"`
	Hash           string    `json:"hash"`
	Addresses      []string  `json:"addresses"`
	Previous       []*string `json:"previous"`
	PayloadHashes  []string  `json:"payload_hashes"`
	PayloadSchemas []string  `json:"payload_schemas"`
}

// Normalized is the single canonical form both transport response shapes
// reduce to.
type Normalized struct {
	TransactionHash string
	TransactionBody txBody
}

// Normalize reduces the transport's heterogeneous submit responses to one
// canonical {hash, body} pair. Two shapes exist upstream:
//
//	(a) [txObject, ...]
//	(b) [hash, [txObject, payloads]]
//
// Shape is detected by inspecting element 0: a string is the shape (b) hash,
// an object carrying the transaction schema marker is shape (a). Anything
// else is a SchemaMismatchError; no further shapes are probed.
func Normalize(raw []byte) (*Normalized, error) {
	elements, err := topLevelArray(raw)
	if err != nil {
		return nil, &faults.SchemaMismatchError{Got: preview(raw)}
	}
	if len(elements) == 0 {
		return nil, &faults.SchemaMismatchError{Got: "empty response array"}
	}

	// Shape (b): element 0 is the transaction hash string.
	var hash string
	if err := json.Unmarshal(elements[0], &hash); err == nil && hash != "" {
		return normalizeHashFirst(hash, elements)
	}

	// Shape (a): element 0 is the transaction object itself.
	body, ok := decodeTxBody(elements[0])
	if !ok {
		return nil, &faults.SchemaMismatchError{Got: preview(elements[0])}
	}
	if body.Hash == "" {
		return nil, &faults.SchemaMismatchError{Got: "transaction object without hash"}
	}
	return &Normalized{TransactionHash: body.Hash, TransactionBody: body}, nil
}

func normalizeHashFirst(hash string, elements []json.RawMessage) (*Normalized, error) {
	if len(elements) < 2 {
		return nil, &faults.SchemaMismatchError{Got: "hash without transaction envelope"}
	}
	var inner []json.RawMessage
	if err := json.Unmarshal(elements[1], &inner); err != nil || len(inner) == 0 {
		return nil, &faults.SchemaMismatchError{Got: preview(elements[1])}
	}
	body, ok := decodeTxBody(inner[0])
	if !ok {
		return nil, &faults.SchemaMismatchError{Got: preview(inner[0])}
	}
	if body.Hash == "" {
		body.Hash = hash
	}
	return &Normalized{TransactionHash: hash, TransactionBody: body}, nil
}

// decodeTxBody accepts an object only when it carries the recognized schema
// marker.
func decodeTxBody(raw json.RawMessage) (txBody, bool) {
	var body txBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return txBody{}, false
	}
	if !strings.HasPrefix(body.Schema, txSchemaPrefix) {
		return txBody{}, false
	}
	return body, true
}

// topLevelArray unwraps the optional {"result": [...]} envelope some node
// versions add, then decodes the response array.
func topLevelArray(raw []byte) ([]json.RawMessage, error) {
	var wrapper struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper.Result) > 0 {
		raw = wrapper.Result
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, err
	}
	return elements, nil
}

// Transaction builds the canonical ProofTransaction, restoring the
// previous-references alignment invariant: one slot per signer address.
func (n *Normalized) Transaction(blockWindow uint64) *models.ProofTransaction {
	previous := make([]*string, len(n.TransactionBody.Addresses))
	copy(previous, n.TransactionBody.Previous)
	return &models.ProofTransaction{
		TransactionHash:    n.TransactionHash,
		SignerAddresses:    append([]string(nil), n.TransactionBody.Addresses...),
		PreviousReferences: previous,
		PayloadHashes:      append([]string(nil), n.TransactionBody.PayloadHashes...),
		PayloadSchemas:     append([]string(nil), n.TransactionBody.PayloadSchemas...),
		BlockWindow:        blockWindow,
	}
}

func preview(raw []byte) string {
	const max = 120
	s := string(raw)
	if len(s) > max {
		return fmt.Sprintf("%s... (%d bytes)", s[:max], len(raw))
	}
	return s
}
