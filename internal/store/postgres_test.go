package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridrop/veridrop/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &PostgresStore{db: db}, mock
}

func deliveryRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"driver_id", "order_id", "proof_hash", "store_tx_hash",
		"status", "archived", "verified_at", "stored_proof",
	})
}

func TestUpsertDelivery(t *testing.T) {
	s, mock := newMockStore(t)

	rec := &models.DeliveryRecord{
		DriverID:    "D1",
		OrderID:     "O1",
		ProofHash:   "abc",
		StoreTxHash: "storetx",
		Status:      models.StatusDelivered,
		Archived:    true,
		VerifiedAt:  time.Unix(1704067200, 0).UTC(),
		StoredProof: []byte(`{"transaction":null,"payload":null}`),
	}

	mock.ExpectExec(`(?s)INSERT INTO deliveries .+ ON CONFLICT \(order_id\) DO UPDATE`).
		WithArgs(rec.OrderID, rec.DriverID, rec.ProofHash, rec.StoreTxHash,
			rec.Status, rec.Archived, rec.VerifiedAt, rec.StoredProof).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpsertDelivery(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestDelivered(t *testing.T) {
	s, mock := newMockStore(t)

	verifiedAt := time.Unix(1704067200, 0).UTC()
	mock.ExpectQuery(`(?s)SELECT .+ FROM deliveries\s+WHERE driver_id = \$1 AND status = \$2 AND order_id <> \$3\s+ORDER BY verified_at DESC`).
		WithArgs("D1", models.StatusDelivered, "O2").
		WillReturnRows(deliveryRows().AddRow(
			"D1", "O1", "abc", "storetx", models.StatusDelivered, true, verifiedAt, []byte(`{}`),
		))

	rec, err := s.LatestDelivered(context.Background(), "D1", "O2")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "abc", rec.ProofHash)
	assert.Equal(t, "O1", rec.OrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestDeliveredNone(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM deliveries`).
		WithArgs("D9", models.StatusDelivered, "").
		WillReturnRows(deliveryRows())

	rec, err := s.LatestDelivered(context.Background(), "D9", "")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFindByProofHash(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM deliveries\s+WHERE proof_hash = \$1`).
		WithArgs("abc").
		WillReturnRows(deliveryRows().AddRow(
			"D1", "O1", "abc", "storetx", models.StatusDelivered, false, time.Now(), nil,
		))

	rec, err := s.FindByProofHash(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "storetx", rec.StoreTxHash)
	assert.False(t, rec.Archived)
}

func TestFindByStoreTxHashMiss(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM deliveries\s+WHERE store_tx_hash = \$1`).
		WithArgs("nope").
		WillReturnRows(deliveryRows())

	rec, err := s.FindByStoreTxHash(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestListDelivered(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM deliveries\s+WHERE status = \$1\s+ORDER BY verified_at DESC\s+LIMIT \$2 OFFSET \$3`).
		WithArgs(models.StatusDelivered, 2, 0).
		WillReturnRows(deliveryRows().
			AddRow("D1", "O1", "h1", "s1", models.StatusDelivered, true, time.Now(), nil).
			AddRow("D2", "O2", "h2", "s2", models.StatusDelivered, false, time.Now(), nil))

	records, err := s.ListDelivered(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "h1", records[0].ProofHash)
	assert.Equal(t, "D2", records[1].DriverID)
}

func TestDriverByID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT driver_id, nfc_tag_id FROM drivers`).
		WithArgs("D1").
		WillReturnRows(sqlmock.NewRows([]string{"driver_id", "nfc_tag_id"}).AddRow("D1", "tag-7"))

	rec, err := s.DriverByID(context.Background(), "D1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "tag-7", rec.NFCTagID)

	mock.ExpectQuery(`SELECT driver_id, nfc_tag_id FROM drivers`).
		WithArgs("D9").
		WillReturnRows(sqlmock.NewRows([]string{"driver_id", "nfc_tag_id"}))

	rec, err = s.DriverByID(context.Background(), "D9")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUpsertDeliveryError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO deliveries`).
		WillReturnError(fmt.Errorf("connection reset"))

	err := s.UpsertDelivery(context.Background(), &models.DeliveryRecord{OrderID: "O1"})
	assert.ErrorContains(t, err, "failed to upsert delivery O1")
}
