package storage

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/resq-relay/internal/models"
)

// PostgresStore archives rescue events for audit retention. It is not the
// registry's source of truth; the relay stays authoritative in memory.
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

func (p *PostgresStore) Append(ctx context.Context, ev models.RescueEvent) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO rescue_events(request_id, kind, lat, lng, responder, occurred_at) VALUES($1,$2,$3,$4,$5,$6)`,
		ev.RequestID, ev.Kind, ev.Location.Lat, ev.Location.Lng, ev.Responder, ev.At)
	return err
}

func (p *PostgresStore) Recent(ctx context.Context, limit int) ([]models.RescueEvent, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT request_id, kind, lat, lng, responder, occurred_at
		 FROM (SELECT * FROM rescue_events ORDER BY occurred_at DESC LIMIT $1) sub
		 ORDER BY occurred_at ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RescueEvent
	for rows.Next() {
		var ev models.RescueEvent
		if err := rows.Scan(&ev.RequestID, &ev.Kind, &ev.Location.Lat, &ev.Location.Lng, &ev.Responder, &ev.At); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error { return p.db.Close() }
