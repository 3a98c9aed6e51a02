package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kjstillabower/station-forecast-service/internal/models"
	"github.com/kjstillabower/station-forecast-service/internal/observability"
)

//go:embed sql/insert-location.sql
var insertLocationSQL string

//go:embed sql/insert-forecast.sql
var insertForecastSQL string

// PersistenceError reports a failed table replacement. The transaction has
// been rolled back, so the table keeps its previous contents.
type PersistenceError struct {
	Table string
	Op    string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s (%s): %v", e.Table, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ReplaceStations deletes every location (forecasts cascade) and inserts
// stations in one transaction.
func (s *Store) ReplaceStations(ctx context.Context, stations []models.Station) error {
	columns := []string{"id", "name", "latitude", "longitude"}
	return s.replace(ctx, TableLocations, columns, insertLocationSQL, len(stations), func(i int) []any {
		st := stations[i]
		return []any{st.ID, st.Name, st.Latitude, st.Longitude}
	})
}

// ReplaceForecasts deletes every forecast and inserts points in one transaction.
func (s *Store) ReplaceForecasts(ctx context.Context, points []models.ForecastPoint) error {
	columns := []string{"id", "location_id", "date", "time", "temperature"}
	return s.replace(ctx, TableForecasts, columns, insertForecastSQL, len(points), func(i int) []any {
		p := points[i]
		return []any{p.ID, p.LocationID, p.Date, p.Time, p.Temperature}
	})
}

func (s *Store) replace(ctx context.Context, table string, columns []string, insertSQL string, n int, row func(int) []any) error {
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Table: table, Op: "begin", Err: err}
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", zap.String("table", table), zap.Error(err))
		}
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return &PersistenceError{Table: table, Op: "delete", Err: err}
	}

	stmtSQL := insertSQL
	if s.driver == DriverPostgres {
		stmtSQL = pq.CopyIn(table, columns...)
	}
	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return &PersistenceError{Table: table, Op: "prepare", Err: err}
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			return &PersistenceError{Table: table, Op: "insert", Err: fmt.Errorf("row %d: %w", i, err)}
		}
	}
	if s.driver == DriverPostgres {
		// Flush the COPY buffer.
		if _, err := stmt.ExecContext(ctx); err != nil {
			return &PersistenceError{Table: table, Op: "copy", Err: err}
		}
	}
	if err := stmt.Close(); err != nil {
		return &PersistenceError{Table: table, Op: "insert", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Table: table, Op: "commit", Err: err}
	}

	observability.RowsPersistedTotal.WithLabelValues(table).Add(float64(n))
	observability.PersistDuration.WithLabelValues(table).Observe(time.Since(start).Seconds())
	s.logger.Info("table replaced",
		zap.String("table", table),
		zap.Int("rows", n),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}
