package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresOpts struct {
	MaxConnections        int
	MaxIdleConnections    int
	MaxIdleTimeConnection time.Duration
}

type PostgresStore struct {
	DB   *sql.DB
	Opts PostgresOpts
	URL  string
	Log  *logrus.Entry
}

func NewPostgresStore(url string, opts PostgresOpts) (*PostgresStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(opts.MaxConnections)
	db.SetMaxIdleConns(opts.MaxIdleConnections)
	db.SetConnMaxIdleTime(opts.MaxIdleTimeConnection)

	p := &PostgresStore{
		DB:   db,
		Opts: opts,
		URL:  url,
		Log: logrus.NewEntry(logrus.New()).WithFields(logrus.Fields{
			"package": "Store",
			"backend": "postgres",
		}),
	}
	p.Log.WithFields(logrus.Fields{
		"Max Connections":      opts.MaxConnections,
		"Max Idle Connections": opts.MaxIdleConnections,
		"Max Timeout":          opts.MaxIdleTimeConnection,
	}).Info("Database Opts")
	return p, nil
}

// Migrate applies the embedded schema migrations.
func (p *PostgresStore) Migrate() error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	migration, err := migrate.NewWithSourceInstance("iofs", source, p.URL)
	if err != nil {
		return err
	}
	defer migration.Close()

	if err := migration.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		p.Log.WithError(err).Error("database migrate failed")
		return err
	}
	p.Log.Info("database migrated")
	return nil
}

func (p *PostgresStore) Put(ctx context.Context, rec Record) error {
	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now().UTC()
	}

	query := `INSERT INTO settlement_receipts
		(receipt_id, auction_id, bidder, amount, price, time_unit, receipt_hash, payload, cose, stored_at) VALUES
		($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (receipt_id) DO NOTHING`
	_, err = p.DB.ExecContext(
		ctx,
		query,
		rec.Payload.ReceiptID,
		rec.Payload.AuctionID,
		rec.Payload.Bidder,
		rec.Payload.Amount,
		rec.Payload.Price,
		int64(rec.Payload.TimeUnit),
		rec.Payload.Hash,
		payloadJSON,
		rec.COSE,
		rec.StoredAt,
	)
	if err != nil {
		return fmt.Errorf("insert receipt %s: %w", rec.Payload.ReceiptID, err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, receiptID string) (*Record, error) {
	row := p.DB.QueryRowContext(ctx,
		`SELECT payload, cose, stored_at FROM settlement_receipts WHERE receipt_id = $1`, receiptID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (p *PostgresStore) ListByAuction(ctx context.Context, auctionID string) ([]Record, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT payload, cose, stored_at FROM settlement_receipts
		WHERE auction_id = $1 ORDER BY time_unit, receipt_id`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error {
	return p.DB.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		payloadJSON []byte
		rec         Record
	)
	if err := s.Scan(&payloadJSON, &rec.COSE, &rec.StoredAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
		return nil, err
	}
	return &rec, nil
}
