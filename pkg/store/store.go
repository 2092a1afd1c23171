// Package store loads occupancy snapshots from Postgres.
//
// Reservations live in block_reservations, one row per block interval.
// Work schedules live in work_schedules with one row per closed track span;
// rows sharing an id form one schedule.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"rail_router/pkg/occupancy"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// LoadSnapshot reads every reservation and work schedule.
func LoadSnapshot(ctx context.Context, db *sql.DB) (*occupancy.Snapshot, error) {
	res, err := fetchReservations(ctx, db)
	if err != nil {
		return nil, err
	}
	rows, err := fetchWorkRows(ctx, db)
	if err != nil {
		return nil, err
	}
	return &occupancy.Snapshot{Reservations: res, WorkSchedules: groupWorkRows(rows)}, nil
}

func fetchReservations(ctx context.Context, db *sql.DB) ([]occupancy.Reservation, error) {
	q := `SELECT block, start_time, end_time, COALESCE(train, '')
FROM block_reservations
ORDER BY block, start_time`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query block_reservations: %w", err)
	}
	defer rows.Close()

	var out []occupancy.Reservation
	for rows.Next() {
		var r occupancy.Reservation
		if err := rows.Scan(&r.Block, &r.Start, &r.End, &r.Train); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// workRow is one closed span of a work schedule.
type workRow struct {
	id         string
	span       occupancy.TrackSpan
	start, end float64
}

func fetchWorkRows(ctx context.Context, db *sql.DB) ([]workRow, error) {
	q := `SELECT id, track, begin_offset, end_offset, start_time, end_time
FROM work_schedules
ORDER BY id, track, begin_offset`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query work_schedules: %w", err)
	}
	defer rows.Close()

	var out []workRow
	for rows.Next() {
		var w workRow
		if err := rows.Scan(&w.id, &w.span.Track, &w.span.Begin, &w.span.End, &w.start, &w.end); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// groupWorkRows merges rows sharing an id and interval into one schedule,
// in first-seen order. Rows of one id with different intervals stay
// separate schedules.
func groupWorkRows(rows []workRow) []occupancy.WorkSchedule {
	type key struct {
		id         string
		start, end float64
	}
	index := make(map[key]int)
	var out []occupancy.WorkSchedule
	for _, r := range rows {
		k := key{r.id, r.start, r.end}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, occupancy.WorkSchedule{
				ID:       r.id,
				Interval: occupancy.Interval{Start: r.start, End: r.end},
			})
		}
		out[i].Spans = append(out[i].Spans, r.span)
	}
	return out
}
