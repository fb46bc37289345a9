package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridrop/veridrop/internal/models"
	"github.com/veridrop/veridrop/internal/payload"
)

const (
	claimLat = 37.7749
	claimLon = -122.4194
	claimTS  = int64(1704067200000)
)

type fakeLookup struct {
	body *payload.Body
	err  error
}

func (f *fakeLookup) ArchivedPayload(_ context.Context, _ string) (*payload.Body, error) {
	return f.body, f.err
}

func oracleServer(t *testing.T, report map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/witnesses/storetx-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(report))
	}))
}

func TestCrossVerifyOracleMatch(t *testing.T) {
	cases := []struct {
		name           string
		sources        int
		consensus      string
		wantConfidence int
	}{
		{"one source", 1, "partial", 65},
		{"two sources", 2, "partial", 80},
		{"three sources", 3, "partial", 95},
		{"many sources capped", 9, "partial", 95},
		{"full consensus floors at 90", 1, "full", 90},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := oracleServer(t, map[string]any{
				"sourceCount": tc.sources,
				"consensus":   tc.consensus,
				"location":    map[string]float64{"latitude": claimLat, "longitude": claimLon},
				"witnessedAt": claimTS,
			})
			defer srv.Close()

			c := New(srv.URL, nil, time.Second)
			res, err := c.CrossVerify(context.Background(), "storetx-1", claimLat, claimLon, claimTS)
			require.NoError(t, err)

			assert.True(t, res.Verified)
			assert.True(t, res.LocationMatch)
			assert.Equal(t, tc.wantConfidence, res.Confidence)
			assert.Equal(t, models.DerivedFromOracle, res.DerivedFrom)
		})
	}
}

func TestCrossVerifyOracleLocationMismatch(t *testing.T) {
	srv := oracleServer(t, map[string]any{
		"sourceCount": 3,
		"consensus":   "full",
		// Roughly 8 km away.
		"location":    map[string]float64{"latitude": 37.70, "longitude": -122.42},
		"witnessedAt": claimTS,
	})
	defer srv.Close()

	c := New(srv.URL, nil, time.Second)
	res, err := c.CrossVerify(context.Background(), "storetx-1", claimLat, claimLon, claimTS)
	require.NoError(t, err)

	assert.False(t, res.Verified)
	assert.False(t, res.LocationMatch)
	assert.LessOrEqual(t, res.Confidence, 40)
	assert.Equal(t, models.DerivedFromOracle, res.DerivedFrom)
}

func TestCrossVerifyStaleWitnessNotVerified(t *testing.T) {
	srv := oracleServer(t, map[string]any{
		"sourceCount": 2,
		"consensus":   "full",
		"location":    map[string]float64{"latitude": claimLat, "longitude": claimLon},
		"witnessedAt": claimTS + (12 * time.Hour).Milliseconds(),
	})
	defer srv.Close()

	c := New(srv.URL, nil, time.Second)
	res, err := c.CrossVerify(context.Background(), "storetx-1", claimLat, claimLon, claimTS)
	require.NoError(t, err)

	assert.False(t, res.Verified)
	assert.True(t, res.LocationMatch)
	assert.LessOrEqual(t, res.Confidence, 40)
}

func TestCrossVerifyZeroSourcesFallsBack(t *testing.T) {
	srv := oracleServer(t, map[string]any{"sourceCount": 0, "consensus": "none"})
	defer srv.Close()

	lookup := &fakeLookup{body: &payload.Body{Latitude: claimLat, Longitude: claimLon}}
	c := New(srv.URL, lookup, time.Second)

	res, err := c.CrossVerify(context.Background(), "storetx-1", claimLat, claimLon, claimTS)
	require.NoError(t, err)

	assert.True(t, res.Verified)
	assert.Equal(t, models.DerivedFromArchiveFallback, res.DerivedFrom)
	assert.Equal(t, models.ConsensusReduced, res.ConsensusLevel)
	assert.Equal(t, fallbackConfidence, res.Confidence)
	assert.True(t, res.LocationMatch)
}

func TestCrossVerifyDegradedOracleFallsBack(t *testing.T) {
	srv := oracleServer(t, map[string]any{"sourceCount": 5, "consensus": "full", "degraded": true})
	defer srv.Close()

	lookup := &fakeLookup{body: &payload.Body{Latitude: claimLat, Longitude: claimLon}}
	c := New(srv.URL, lookup, time.Second)

	res, err := c.CrossVerify(context.Background(), "storetx-1", claimLat, claimLon, claimTS)
	require.NoError(t, err)
	assert.Equal(t, models.DerivedFromArchiveFallback, res.DerivedFrom)
}

func TestCrossVerifyUnreachableOracleFallsBack(t *testing.T) {
	lookup := &fakeLookup{body: &payload.Body{Latitude: claimLat, Longitude: claimLon}}
	c := New("http://127.0.0.1:1", lookup, 200*time.Millisecond)

	res, err := c.CrossVerify(context.Background(), "storetx-1", claimLat, claimLon, claimTS)
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, models.DerivedFromArchiveFallback, res.DerivedFrom)
}

func TestFallbackWithoutArchivedPayloadNotVerified(t *testing.T) {
	lookup := &fakeLookup{err: fmt.Errorf("store unreachable")}
	c := New("http://127.0.0.1:1", lookup, 200*time.Millisecond)

	res, err := c.CrossVerify(context.Background(), "storetx-1", claimLat, claimLon, claimTS)
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, 0, res.Confidence)
	assert.Equal(t, models.ConsensusReduced, res.ConsensusLevel)
}

func TestFallbackInvalidCoordinatesNotVerified(t *testing.T) {
	lookup := &fakeLookup{body: &payload.Body{Latitude: 0, Longitude: 0}}
	c := New("http://127.0.0.1:1", lookup, 200*time.Millisecond)

	res, err := c.CrossVerify(context.Background(), "storetx-1", claimLat, claimLon, claimTS)
	require.NoError(t, err)
	assert.False(t, res.Verified)
}

func TestHaversine(t *testing.T) {
	// Same point.
	assert.InDelta(t, 0, haversineMeters(claimLat, claimLon, claimLat, claimLon), 0.001)
	// One degree of latitude is about 111 km.
	assert.InDelta(t, 111195, haversineMeters(0, 0, 1, 0), 100)
}
