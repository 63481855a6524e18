// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/waymark/internal/geo"
	"github.com/tomtom215/waymark/internal/models"
)

// Target names the enrichment foreign key on location_points and the flag
// that dead-letters a row for it. Hourly and daily weather share one flag.
type Target struct {
	Name         string
	FKColumn     string
	FailedColumn string
}

// Enrichment targets. Column names are compile-time constants and are the
// only identifiers ever interpolated into SQL here.
var (
	TargetPlace         = Target{Name: "place", FKColumn: "place_detail_id", FailedColumn: "reverse_geocode_failed"}
	TargetHourlyWeather = Target{Name: "hourly_weather", FKColumn: "hourly_weather_id", FailedColumn: "weather_failed"}
	TargetDailyWeather  = Target{Name: "daily_weather", FKColumn: "daily_weather_id", FailedColumn: "weather_failed"}
	TargetTimezone      = Target{Name: "timezone", FKColumn: "timezone_id", FailedColumn: "timezone_failed"}
)

// QueueCursor is the keyset position of the last row a worker looked at.
type QueueCursor struct {
	RecordedAt time.Time
	ID         int64
}

// haversineSQL is the great-circle distance in km between (latitude, longitude)
// of the current row and a bound point. It takes three arguments: lat, lat, lon.
const haversineSQL = `(2 * 6371.0 * asin(least(1.0, sqrt(
	pow(sin(radians(latitude - ?) / 2), 2) +
	cos(radians(?)) * cos(radians(latitude)) * pow(sin(radians(longitude - ?) / 2), 2)))))`

// boxPredicate renders a latitude/longitude prefilter for box. A box that
// crosses the antimeridian becomes two longitude ranges.
func boxPredicate(box geo.BBox) (string, []any) {
	var lon []string
	args := []any{box.MinLat, box.MaxLat}
	for _, r := range box.LonRanges() {
		lon = append(lon, `longitude BETWEEN ? AND ?`)
		args = append(args, r[0], r[1])
	}
	return `latitude BETWEEN ? AND ? AND (` + strings.Join(lon, ` OR `) + `)`, args
}

// PendingPoints returns up to limit rows whose target FK is NULL and that are
// not dead-lettered, in (recorded_at, id) order strictly after cursor. A nil
// cursor starts from the beginning.
func PendingPoints(ctx context.Context, q Querier, t Target, cursor *QueueCursor, limit int) ([]models.PendingPoint, error) {
	query := `SELECT id, recorded_at, latitude, longitude FROM location_points
		WHERE ` + t.FKColumn + ` IS NULL AND NOT ` + t.FailedColumn
	var args []any
	if cursor != nil {
		query += ` AND (recorded_at > ? OR (recorded_at = ? AND id > ?))`
		at := cursor.RecordedAt.UTC()
		args = append(args, at, at, cursor.ID)
	}
	query += ` ORDER BY recorded_at, id LIMIT ?`
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select pending %s points: %w", t.Name, err)
	}
	defer closeWithLog(rows, "pending point rows")

	out := make([]models.PendingPoint, 0, limit)
	for rows.Next() {
		var p models.PendingPoint
		if err := rows.Scan(&p.ID, &p.RecordedAt, &p.Latitude, &p.Longitude); err != nil {
			return nil, fmt.Errorf("scan pending point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPending counts rows still queued for a target.
func CountPending(ctx context.Context, q Querier, t Target) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `SELECT count(*) FROM location_points
		WHERE `+t.FKColumn+` IS NULL AND NOT `+t.FailedColumn).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending %s points: %w", t.Name, err)
	}
	return n, nil
}

// SetPointTarget fills the target FK of one point.
func SetPointTarget(ctx context.Context, q Querier, t Target, pointID, targetID int64) error {
	_, err := q.ExecContext(ctx, `UPDATE location_points SET `+t.FKColumn+` = ? WHERE id = ?`, targetID, pointID)
	if err != nil {
		return fmt.Errorf("set %s on point %d: %w", t.FKColumn, pointID, err)
	}
	return nil
}

// MarkPointFailed dead-letters a point for the target. The FK stays NULL.
func MarkPointFailed(ctx context.Context, q Querier, t Target, pointID int64) error {
	_, err := q.ExecContext(ctx, `UPDATE location_points SET `+t.FailedColumn+` = true WHERE id = ?`, pointID)
	if err != nil {
		return fmt.Errorf("set %s on point %d: %w", t.FailedColumn, pointID, err)
	}
	return nil
}

// BackfillCell sets the target FK on every still-pending point that lies in
// the given grid cell and was recorded within [from, to].
func BackfillCell(ctx context.Context, q Querier, t Target, targetID int64, cell geo.Cell, cellSizeKm float64, from, to time.Time) (int64, error) {
	deg := geo.CellDegrees(cellSizeKm)
	res, err := q.ExecContext(ctx, `UPDATE location_points SET `+t.FKColumn+` = ?
		WHERE `+t.FKColumn+` IS NULL AND NOT `+t.FailedColumn+`
			AND CAST(floor(latitude / ?) AS BIGINT) = ?
			AND CAST(floor(longitude / ?) AS BIGINT) = ?
			AND recorded_at BETWEEN ? AND ?`,
		targetID, deg, cell.Y, deg, cell.X, from.UTC(), to.UTC())
	if err != nil {
		return 0, fmt.Errorf("backfill %s by cell: %w", t.Name, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PendingInCell lists still-pending points in a grid cell recorded within
// [from, to], for targets whose value must be computed per point.
func PendingInCell(ctx context.Context, q Querier, t Target, cell geo.Cell, cellSizeKm float64, from, to time.Time, limit int) ([]models.PendingPoint, error) {
	deg := geo.CellDegrees(cellSizeKm)
	rows, err := q.QueryContext(ctx, `SELECT id, recorded_at, latitude, longitude FROM location_points
		WHERE `+t.FKColumn+` IS NULL AND NOT `+t.FailedColumn+`
			AND CAST(floor(latitude / ?) AS BIGINT) = ?
			AND CAST(floor(longitude / ?) AS BIGINT) = ?
			AND recorded_at BETWEEN ? AND ?
		ORDER BY recorded_at, id
		LIMIT ?`,
		deg, cell.Y, deg, cell.X, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("select %s points in cell: %w", t.Name, err)
	}
	defer closeWithLog(rows, "cell point rows")

	var out []models.PendingPoint
	for rows.Next() {
		var p models.PendingPoint
		if err := rows.Scan(&p.ID, &p.RecordedAt, &p.Latitude, &p.Longitude); err != nil {
			return nil, fmt.Errorf("scan cell point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// BackfillNearby sets the target FK on every still-pending point within
// radiusKm of center that was recorded within [from, to].
func BackfillNearby(ctx context.Context, q Querier, t Target, targetID int64, center geo.Point, radiusKm float64, from, to time.Time) (int64, error) {
	inBox, boxArgs := boxPredicate(geo.Around(center, radiusKm))
	args := append([]any{targetID, from.UTC(), to.UTC()}, boxArgs...)
	args = append(args, center.Lat, center.Lat, center.Lon, radiusKm)
	res, err := q.ExecContext(ctx, `UPDATE location_points SET `+t.FKColumn+` = ?
		WHERE `+t.FKColumn+` IS NULL AND NOT `+t.FailedColumn+`
			AND recorded_at BETWEEN ? AND ?
			AND `+inBox+`
			AND `+haversineSQL+` <= ?`, args...)
	if err != nil {
		return 0, fmt.Errorf("backfill %s nearby: %w", t.Name, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// InsertPoints bulk-inserts location points for an import job and returns
// the number written.
func InsertPoints(ctx context.Context, q Querier, importJobID int64, points []models.LocationPoint) (int64, error) {
	var n int64
	for i := range points {
		p := &points[i]
		_, err := q.ExecContext(ctx, `
			INSERT INTO location_points (import_job_id, recorded_at, latitude, longitude, accuracy, velocity, altitude)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			importJobID, p.RecordedAt.UTC(), p.Latitude, p.Longitude,
			nullable(p.Accuracy), nullable(p.Velocity), nullable(p.Altitude))
		if err != nil {
			return n, fmt.Errorf("insert point %d of %d: %w", i+1, len(points), err)
		}
		n++
	}
	return n, nil
}

// GetPoint loads one location point.
func GetPoint(ctx context.Context, q Querier, id int64) (*models.LocationPoint, error) {
	var p models.LocationPoint
	err := q.QueryRowContext(ctx, `
		SELECT id, import_job_id, recorded_at, latitude, longitude, accuracy, velocity, altitude,
			place_detail_id, hourly_weather_id, daily_weather_id, timezone_id,
			reverse_geocode_failed, weather_failed, timezone_failed
		FROM location_points WHERE id = ?`, id).Scan(
		&p.ID, &p.ImportJobID, &p.RecordedAt, &p.Latitude, &p.Longitude, &p.Accuracy, &p.Velocity, &p.Altitude,
		&p.PlaceDetailID, &p.HourlyWeatherID, &p.DailyWeatherID, &p.TimezoneID,
		&p.ReverseGeocodeFailed, &p.WeatherFailed, &p.TimezoneFailed)
	if err != nil {
		return nil, fmt.Errorf("get point %d: %w", id, err)
	}
	return &p, nil
}

// CountPoints counts rows in location_points.
func CountPoints(ctx context.Context, q Querier) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, `SELECT count(*) FROM location_points`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return n, nil
}
