package storage

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// SaveRide upserts so an accepted ride that was written once can still have a
// later status correction land without a duplicate key failure.
func (p *PostgresStore) SaveRide(ctx context.Context, r models.RideRequest) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rides(id, requester_id, pickup_lng, pickup_lat, status, accepted_by, eta_minutes, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, accepted_by = EXCLUDED.accepted_by, eta_minutes = EXCLUDED.eta_minutes`,
		r.RideID, r.RequesterID, r.Pickup.Lng, r.Pickup.Lat, string(r.Status), nullable(r.AcceptedBy), r.ETAMinutes, r.CreatedAt)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (p *PostgresStore) Close() error { return p.db.Close() }
