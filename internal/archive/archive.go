// Package archive is the adapter to the off-chain store holding full proof
// payloads. All traffic uses the store's signed query-envelope protocol; the
// store exposes no plain GET surface, so none is attempted.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/veridrop/veridrop/internal/faults"
	"github.com/veridrop/veridrop/internal/identity"
	"github.com/veridrop/veridrop/internal/metrics"
	"github.com/veridrop/veridrop/internal/models"
)

// Query schemas understood by the store.
const (
	schemaInsert = "veridrop.store.insert"
	schemaGet    = "veridrop.store.get"
)

// InsertResult reports one archive insertion. StoreTxHash is the store's own
// transaction hash, distinct from the ledger transaction hash and the key
// for later cross-verification.
type InsertResult struct {
	Success       bool
	InsertedCount int
	StoreTxHash   string
}

// Adapter talks the signed query-envelope protocol against the store's
// resolved module endpoint.
type Adapter struct {
	client  *resty.Client
	signer  identity.Signer
	baseURL string

	mu         sync.Mutex
	moduleAddr string
}

// New builds an adapter rooted at baseURL. The module address is discovered
// lazily on first use and cached for the process lifetime.
func New(baseURL string, signer identity.Signer, timeout time.Duration) *Adapter {
	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.NoRedirectPolicy()).
		SetHeader("Content-Type", "application/json")
	return &Adapter{client: client, signer: signer, baseURL: baseURL}
}

// Insert archives payloads and returns the store's transaction hash. A
// failed insert is reported in the result, not as an error, unless the
// module address itself is unresolved.
func (a *Adapter) Insert(ctx context.Context, payloads []*models.Payload) (InsertResult, error) {
	if len(payloads) == 0 {
		return InsertResult{Success: true}, nil
	}

	resp, err := a.query(ctx, envelopeQuery{Schema: schemaInsert, Payloads: payloads})
	if err != nil {
		metrics.ArchiveInserts.WithLabelValues("error").Inc()
		return InsertResult{}, err
	}
	if len(resp.Errors) > 0 {
		metrics.ArchiveInserts.WithLabelValues("rejected").Inc()
		slog.Warn("Off-chain store rejected insert", "errors", resp.Errors)
		return InsertResult{StoreTxHash: resp.Ack.StoreTxHash}, nil
	}

	metrics.ArchiveInserts.WithLabelValues("ok").Inc()
	return InsertResult{
		Success:       true,
		InsertedCount: len(payloads),
		StoreTxHash:   resp.Ack.StoreTxHash,
	}, nil
}

// Get retrieves an archived payload by content hash. Single attempt, nil
// when the store holds nothing under the hash.
func (a *Adapter) Get(ctx context.Context, contentHash string) (*models.Payload, error) {
	resp, err := a.query(ctx, envelopeQuery{Schema: schemaGet, Hashes: []string{contentHash}})
	if err != nil {
		metrics.ArchiveGets.WithLabelValues("error").Inc()
		return nil, err
	}

	for _, p := range resp.Payloads {
		if p != nil && p.ContentHash == contentHash {
			metrics.ArchiveGets.WithLabelValues("hit").Inc()
			return p, nil
		}
	}
	metrics.ArchiveGets.WithLabelValues("miss").Inc()
	return nil, nil
}

// query signs one envelope and posts it to the resolved module endpoint.
func (a *Adapter) query(ctx context.Context, q envelopeQuery) (*storeResponse, error) {
	moduleAddr, err := a.resolveModuleAddress(ctx)
	if err != nil {
		return nil, &faults.StoreAddressUnresolvedError{Err: err}
	}

	envelope, err := a.buildEnvelope(q)
	if err != nil {
		return nil, err
	}

	httpResp, err := a.client.R().
		SetContext(ctx).
		SetBody(envelope).
		Post(fmt.Sprintf("%s/module/%s", a.baseURL, moduleAddr))
	if err != nil {
		return nil, faults.Transient("store query", err)
	}
	if httpResp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("store query returned status %d: %s", httpResp.StatusCode(), httpResp.String())
	}

	return parseStoreResponse(httpResp.Body())
}

// resolveModuleAddress performs the one-time discovery: follow the store's
// well-known root route and learn the current module address from either the
// redirect Location or the status payload. Only success is cached; a failed
// discovery is retried on the next call.
func (a *Adapter) resolveModuleAddress(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.moduleAddr != "" {
		return a.moduleAddr, nil
	}

	resp, err := a.client.R().SetContext(ctx).Get(a.baseURL + "/")
	if err != nil && (resp == nil || !isRedirect(resp.StatusCode())) {
		return "", faults.Transient("store discovery", err)
	}

	addr, err := moduleAddressFrom(resp)
	if err != nil {
		return "", err
	}
	a.moduleAddr = addr
	slog.Info("Off-chain store module address resolved", "address", addr)
	return addr, nil
}

func moduleAddressFrom(resp *resty.Response) (string, error) {
	if isRedirect(resp.StatusCode()) {
		location := resp.Header().Get("Location")
		var addr string
		if _, err := fmt.Sscanf(location, "/module/%s", &addr); err != nil || addr == "" {
			return "", fmt.Errorf("unrecognized discovery redirect location %q", location)
		}
		return addr, nil
	}

	if resp.StatusCode() == http.StatusOK {
		var status struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(resp.Body(), &status); err != nil {
			return "", fmt.Errorf("failed to decode store status: %w", err)
		}
		if status.Address == "" {
			return "", fmt.Errorf("store status carries no module address")
		}
		return status.Address, nil
	}

	return "", fmt.Errorf("store discovery returned status %d", resp.StatusCode())
}

func isRedirect(code int) bool {
	return code == http.StatusTemporaryRedirect ||
		code == http.StatusMovedPermanently ||
		code == http.StatusFound
}
