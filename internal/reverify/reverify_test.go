package reverify

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridrop/veridrop/internal/models"
	"github.com/veridrop/veridrop/internal/payload"
)

type listStore struct {
	records []*models.DeliveryRecord
	listErr error
}

func (l *listStore) ListDelivered(_ context.Context, limit, offset int) ([]*models.DeliveryRecord, error) {
	if l.listErr != nil {
		return nil, l.listErr
	}
	if offset >= len(l.records) {
		return nil, nil
	}
	end := offset + limit
	if end > len(l.records) {
		end = len(l.records)
	}
	return l.records[offset:end], nil
}

func (l *listStore) UpsertDelivery(context.Context, *models.DeliveryRecord) error { return nil }
func (l *listStore) LatestDelivered(context.Context, string, string) (*models.DeliveryRecord, error) {
	return nil, nil
}
func (l *listStore) FindByProofHash(context.Context, string) (*models.DeliveryRecord, error) {
	return nil, nil
}
func (l *listStore) FindByStoreTxHash(context.Context, string) (*models.DeliveryRecord, error) {
	return nil, nil
}
func (l *listStore) DriverByID(context.Context, string) (*models.DriverRecord, error) {
	return nil, nil
}
func (l *listStore) Close() error { return nil }

type mapArchive struct {
	payloads map[string]*models.Payload
}

func (a *mapArchive) Get(_ context.Context, hash string) (*models.Payload, error) {
	return a.payloads[hash], nil
}

type stubVerifier struct {
	derivedFrom string
	verified    bool
	err         error
}

func (v *stubVerifier) CrossVerify(context.Context, string, float64, float64, int64) (*models.VerificationResult, error) {
	if v.err != nil {
		return nil, v.err
	}
	return &models.VerificationResult{Verified: v.verified, DerivedFrom: v.derivedFrom}, nil
}

func record(t *testing.T, orderID, storeTxHash string, archived bool) (*models.DeliveryRecord, *models.Payload) {
	t.Helper()
	p, err := payload.Build(models.DeliveryEvent{
		DeliveryID: "del-" + orderID,
		DriverID:   "D1",
		OrderID:    orderID,
		Timestamp:  1704067200000,
		Latitude:   37.7749,
		Longitude:  -122.4194,
	})
	require.NoError(t, err)

	blob, err := json.Marshal(models.StoredProof{
		Transaction: &models.ProofTransaction{TransactionHash: "tx-" + orderID},
		Payload:     p,
	})
	require.NoError(t, err)

	return &models.DeliveryRecord{
		DriverID:    "D1",
		OrderID:     orderID,
		ProofHash:   "tx-" + orderID,
		StoreTxHash: storeTxHash,
		Status:      models.StatusDelivered,
		Archived:    archived,
		StoredProof: blob,
	}, p
}

func TestRunCorroborates(t *testing.T) {
	rec1, p1 := record(t, "O1", "s1", true)
	rec2, p2 := record(t, "O2", "s2", true)
	archive := &mapArchive{payloads: map[string]*models.Payload{
		p1.ContentHash: p1,
		p2.ContentHash: p2,
	}}

	s := New(&listStore{records: []*models.DeliveryRecord{rec1, rec2}},
		archive,
		&stubVerifier{derivedFrom: models.DerivedFromOracle, verified: true},
		Options{MaxConcurrency: 2, BatchSize: 1})

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Checked)
	assert.Equal(t, int64(2), report.Corroborated)
	assert.Zero(t, report.ArchiveMissing)
	assert.Zero(t, report.Failed)
}

func TestRunCountsArchiveMissing(t *testing.T) {
	rec, _ := record(t, "O1", "s1", true)
	s := New(&listStore{records: []*models.DeliveryRecord{rec}},
		&mapArchive{payloads: map[string]*models.Payload{}},
		&stubVerifier{derivedFrom: models.DerivedFromOracle, verified: true},
		Options{MaxConcurrency: 1, BatchSize: 10})

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Checked)
	assert.Equal(t, int64(1), report.ArchiveMissing)
	assert.Zero(t, report.Corroborated)
}

func TestRunCountsFallbackOnly(t *testing.T) {
	rec, p := record(t, "O1", "s1", true)
	s := New(&listStore{records: []*models.DeliveryRecord{rec}},
		&mapArchive{payloads: map[string]*models.Payload{p.ContentHash: p}},
		&stubVerifier{derivedFrom: models.DerivedFromArchiveFallback, verified: true},
		Options{MaxConcurrency: 1, BatchSize: 10})

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.FallbackOnly)
}

func TestRunUnarchivedRecordUsesStoredBlob(t *testing.T) {
	rec, _ := record(t, "O1", "", false)
	s := New(&listStore{records: []*models.DeliveryRecord{rec}},
		&mapArchive{payloads: map[string]*models.Payload{}},
		&stubVerifier{derivedFrom: models.DerivedFromOracle, verified: true},
		Options{MaxConcurrency: 1, BatchSize: 10})

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	// No store tx hash: nothing to corroborate against, counted as fallback.
	assert.Equal(t, int64(1), report.FallbackOnly)
	assert.Zero(t, report.ArchiveMissing)
}

func TestRunCountsVerifierFailures(t *testing.T) {
	rec, p := record(t, "O1", "s1", true)
	s := New(&listStore{records: []*models.DeliveryRecord{rec}},
		&mapArchive{payloads: map[string]*models.Payload{p.ContentHash: p}},
		&stubVerifier{err: fmt.Errorf("oracle down")},
		Options{MaxConcurrency: 1, BatchSize: 10})

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Failed)
}

func TestRunEmptyStore(t *testing.T) {
	s := New(&listStore{}, nil, nil, Options{MaxConcurrency: 4, BatchSize: 10})
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
}

func TestRunListFailureStopsSweep(t *testing.T) {
	s := New(&listStore{listErr: fmt.Errorf("connection reset")}, nil, nil, Options{})
	_, err := s.Run(context.Background())
	assert.ErrorContains(t, err, "failed to list delivered records")
}
