package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventRepository reads the race calendar. The calendar is owned by the
// ingestion side of the platform; nothing here writes to it.
type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

const eventSelect = `
		SELECT s.year, r.round, r.name, r.event_date,
		       r.session1_date, r.session2_date, r.session3_date,
		       r.session4_date, r.session5_date
		FROM races r
		JOIN seasons s ON s.id = r.season_id`

func (r *EventRepository) ListEvents(ctx context.Context, season int) ([]*domain.Event, error) {
	rows, err := r.pool.Query(ctx, eventSelect+`
		WHERE s.year = $1
		ORDER BY r.round ASC`, season)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return collectEvents(rows)
}

func (r *EventRepository) Get(ctx context.Context, key domain.EventKey) (*domain.Event, error) {
	row := r.pool.QueryRow(ctx, eventSelect+`
		WHERE s.year = $1 AND r.round = $2`, key.Season, key.Round)
	return scanEvent(row)
}

func (r *EventRepository) ListBetween(ctx context.Context, from, to time.Time) ([]*domain.Event, error) {
	rows, err := r.pool.Query(ctx, eventSelect+`
		WHERE r.event_date BETWEEN $1::date AND $2::date
		ORDER BY r.event_date ASC, r.round ASC`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list events between: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]*domain.Event, error) {
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var e domain.Event
	s := &e.Sessions
	err := row.Scan(
		&e.Key.Season, &e.Key.Round, &e.Name, &e.EventDate,
		&s[0], &s[1], &s[2], &s[3], &s[4],
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}

	// pgx hands timestamptz back in the local zone
	if e.EventDate != nil {
		d := e.EventDate.UTC()
		e.EventDate = &d
	}
	for i, t := range s {
		if t != nil {
			u := t.UTC()
			s[i] = &u
		}
	}
	return &e, nil
}
