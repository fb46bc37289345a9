// Package oracle cross-checks location proofs against an independent
// witness-network oracle. The oracle's route surface and the store's are
// maintained separately and drift; when the oracle is unreachable, empty or
// degraded, the client derives a reduced-confidence result from the archived
// payload instead of blocking.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/veridrop/veridrop/internal/metrics"
	"github.com/veridrop/veridrop/internal/models"
	"github.com/veridrop/veridrop/internal/payload"
)

// Verification thresholds.
const (
	// locationMatchRadius is the maximum distance between claimed and
	// witnessed coordinates still counting as a match.
	locationMatchRadius = 250.0 // meters

	// witnessTimeWindow bounds the claim-to-witness timestamp drift.
	witnessTimeWindow = 6 * time.Hour

	// fallbackConfidence is the fixed mid-tier confidence of an
	// archive-derived result.
	fallbackConfidence = 50
)

// ArchivedLookup resolves the archived payload behind a store transaction
// hash. Implemented by the proof service over the persistence collaborator
// and the off-chain store.
type ArchivedLookup interface {
	ArchivedPayload(ctx context.Context, storeTxHash string) (*payload.Body, error)
}

// Client queries the oracle keyed by the off-chain store's own transaction
// hash.
type Client struct {
	client  *resty.Client
	baseURL string
	lookup  ArchivedLookup
}

func New(baseURL string, lookup ArchivedLookup, timeout time.Duration) *Client {
	return &Client{
		client:  resty.New().SetTimeout(timeout),
		baseURL: baseURL,
		lookup:  lookup,
	}
}

// witnessReport is the oracle's response shape.
type witnessReport struct {
	SourceCount int    `json:"sourceCount"`
	Consensus   string `json:"consensus"`
	Degraded    bool   `json:"degraded"`
	Location    struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	WitnessedAt int64 `json:"witnessedAt"`
}

// CrossVerify corroborates a location claim. The result is recomputed on
// every call and never treated as authoritative state.
func (c *Client) CrossVerify(ctx context.Context, storeTxHash string, lat, lon float64, timestamp int64) (*models.VerificationResult, error) {
	report, err := c.queryOracle(ctx, storeTxHash)
	if err != nil || report.SourceCount == 0 || report.Degraded {
		if err != nil {
			slog.Warn("Oracle unreachable, deriving from archive", "storeTxHash", storeTxHash, "error", err)
		}
		metrics.OracleQueries.WithLabelValues(models.DerivedFromArchiveFallback).Inc()
		return c.archiveFallback(ctx, storeTxHash, lat, lon)
	}

	metrics.OracleQueries.WithLabelValues(models.DerivedFromOracle).Inc()
	return scoreReport(report, lat, lon, timestamp), nil
}

func (c *Client) queryOracle(ctx context.Context, storeTxHash string) (*witnessReport, error) {
	var report witnessReport
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&report).
		Get(fmt.Sprintf("%s/v1/witnesses/%s", c.baseURL, storeTxHash))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("oracle returned status %d", resp.StatusCode())
	}
	return &report, nil
}

// scoreReport turns an oracle witness report into a confidence-scored
// result. A location match starts at 50 and earns 15 per corroborating
// source up to three, capped at 95; full consensus floors the score at 90.
// A mismatching or stale witness never scores above 40.
func scoreReport(report *witnessReport, lat, lon float64, timestamp int64) *models.VerificationResult {
	distance := haversineMeters(lat, lon, report.Location.Latitude, report.Location.Longitude)
	locationMatch := distance <= locationMatchRadius

	inWindow := true
	if report.WitnessedAt > 0 && timestamp > 0 {
		drift := time.Duration(math.Abs(float64(report.WitnessedAt-timestamp))) * time.Millisecond
		inWindow = drift <= witnessTimeWindow
	}

	sources := report.SourceCount
	if sources > 3 {
		sources = 3
	}

	result := &models.VerificationResult{
		SourceCount:    report.SourceCount,
		LocationMatch:  locationMatch,
		ConsensusLevel: consensusLevel(report.Consensus),
		DerivedFrom:    models.DerivedFromOracle,
	}

	if locationMatch && inWindow {
		confidence := 50 + 15*sources
		if report.Consensus == models.ConsensusFull && confidence < 90 {
			confidence = 90
		}
		if confidence > 95 {
			confidence = 95
		}
		result.Verified = true
		result.Confidence = confidence
		return result
	}

	confidence := 10 * sources
	if confidence > 40 {
		confidence = 40
	}
	result.Confidence = confidence
	return result
}

// archiveFallback derives a reduced result from the archived payload's own
// location fields.
func (c *Client) archiveFallback(ctx context.Context, storeTxHash string, lat, lon float64) (*models.VerificationResult, error) {
	result := &models.VerificationResult{
		ConsensusLevel: models.ConsensusReduced,
		DerivedFrom:    models.DerivedFromArchiveFallback,
	}

	if c.lookup == nil {
		return result, nil
	}
	archived, err := c.lookup.ArchivedPayload(ctx, storeTxHash)
	if err != nil || archived == nil {
		slog.Warn("Archive fallback has no payload", "storeTxHash", storeTxHash, "error", err)
		return result, nil
	}

	if !payload.ValidCoordinates(archived.Latitude, archived.Longitude) {
		return result, nil
	}
	result.Verified = true
	result.Confidence = fallbackConfidence
	result.SourceCount = 1
	result.LocationMatch = haversineMeters(lat, lon, archived.Latitude, archived.Longitude) <= locationMatchRadius
	return result, nil
}

func consensusLevel(reported string) string {
	switch reported {
	case models.ConsensusFull, models.ConsensusPartial:
		return reported
	default:
		return models.ConsensusNone
	}
}

// haversineMeters is the great-circle distance between two coordinates.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(a))
}
