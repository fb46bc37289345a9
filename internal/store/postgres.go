package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/veridrop/veridrop/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements DeliveryStore on Postgres through the pgx stdlib
// driver.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects, pings and runs the embedded migrations.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Database migrations applied")
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

const deliveryColumns = "driver_id, order_id, proof_hash, store_tx_hash, status, archived, verified_at, stored_proof"

func (s *PostgresStore) UpsertDelivery(ctx context.Context, rec *models.DeliveryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (order_id, driver_id, proof_hash, store_tx_hash, status, archived, verified_at, stored_proof)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) DO UPDATE SET
			driver_id = EXCLUDED.driver_id,
			proof_hash = EXCLUDED.proof_hash,
			store_tx_hash = EXCLUDED.store_tx_hash,
			status = EXCLUDED.status,
			archived = EXCLUDED.archived,
			verified_at = EXCLUDED.verified_at,
			stored_proof = EXCLUDED.stored_proof`,
		rec.OrderID, rec.DriverID, rec.ProofHash, rec.StoreTxHash,
		rec.Status, rec.Archived, rec.VerifiedAt, rec.StoredProof,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert delivery %s: %w", rec.OrderID, err)
	}
	return nil
}

func (s *PostgresStore) LatestDelivered(ctx context.Context, driverID, excludeOrderID string) (*models.DeliveryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE driver_id = $1 AND status = $2 AND order_id <> $3
		ORDER BY verified_at DESC
		LIMIT 1`,
		driverID, models.StatusDelivered, excludeOrderID,
	)
	return scanDelivery(row)
}

func (s *PostgresStore) FindByProofHash(ctx context.Context, proofHash string) (*models.DeliveryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE proof_hash = $1
		LIMIT 1`,
		proofHash,
	)
	return scanDelivery(row)
}

func (s *PostgresStore) FindByStoreTxHash(ctx context.Context, storeTxHash string) (*models.DeliveryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE store_tx_hash = $1
		LIMIT 1`,
		storeTxHash,
	)
	return scanDelivery(row)
}

func (s *PostgresStore) ListDelivered(ctx context.Context, limit, offset int) ([]*models.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE status = $1
		ORDER BY verified_at DESC
		LIMIT $2 OFFSET $3`,
		models.StatusDelivered, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivered records: %w", err)
	}
	defer rows.Close()

	var records []*models.DeliveryRecord
	for rows.Next() {
		rec, err := scanDeliveryRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read delivered records: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) DriverByID(ctx context.Context, driverID string) (*models.DriverRecord, error) {
	var rec models.DriverRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT driver_id, nfc_tag_id FROM drivers WHERE driver_id = $1`,
		driverID,
	).Scan(&rec.DriverID, &rec.NFCTagID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read driver %s: %w", driverID, err)
	}
	return &rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row *sql.Row) (*models.DeliveryRecord, error) {
	rec, err := scanDeliveryRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func scanDeliveryRow(row rowScanner) (*models.DeliveryRecord, error) {
	var rec models.DeliveryRecord
	err := row.Scan(
		&rec.DriverID, &rec.OrderID, &rec.ProofHash, &rec.StoreTxHash,
		&rec.Status, &rec.Archived, &rec.VerifiedAt, &rec.StoredProof,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan delivery record: %w", err)
	}
	return &rec, nil
}
