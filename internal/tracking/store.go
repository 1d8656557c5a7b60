package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-fleettrack/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Store is the durable record of sessions and their positions. It is the
// source of truth for anything the Manager no longer holds in memory.
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	// UpdateSession writes s unless the stored row is already inactive or
	// holds a newer positions_count; stale writes are dropped silently.
	UpdateSession(ctx context.Context, s Session) error
	LoadSession(ctx context.Context, id string) (Session, error)
	LoadActiveByVehicle(ctx context.Context, vehicleID string) ([]Session, error)
	LoadActive(ctx context.Context) ([]Session, error)
	LoadHistory(ctx context.Context, vehicleID string, limit int) ([]Session, error)
	AppendPosition(ctx context.Context, p PositionSample) (PositionSample, error)
	Positions(ctx context.Context, sessionID string) ([]PositionSample, error)
}

type PgStore struct {
	db db.Querier
}

func NewPgStore(db db.Querier) *PgStore {
	return &PgStore{db: db}
}

const sessionColumns = `id, vehicle_id, COALESCE(driver_id,''), COALESCE(driver_name,''), COALESCE(driver_phone,''), COALESCE(mission_id,''),
		started_at, ended_at, is_active, state,
		last_latitude, last_longitude, last_speed, last_heading, last_position_at,
		positions_count, total_distance_m`

const uniqueViolation = "23505"

func (s *PgStore) CreateSession(ctx context.Context, session Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tracking_sessions (id, vehicle_id, driver_id, driver_name, driver_phone, mission_id, started_at, is_active, state, positions_count, total_distance_m)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, session.ID, session.VehicleID, session.DriverID, session.DriverName, session.DriverPhone, session.MissionID,
		session.StartedAt, session.Active, string(session.State), session.PositionsCount, session.TotalDistanceM)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("create session for %s: %w", session.VehicleID, ErrConflict)
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PgStore) UpdateSession(ctx context.Context, session Session) error {
	_, err := s.db.Exec(ctx, `
		UPDATE tracking_sessions
		SET ended_at=$2, is_active=$3, state=$4,
		    last_latitude=$5, last_longitude=$6, last_speed=$7, last_heading=$8, last_position_at=$9,
		    positions_count=$10, total_distance_m=$11
		WHERE id=$1 AND is_active AND positions_count <= $10
	`, session.ID, session.EndedAt, session.Active, string(session.State),
		session.LastLatitude, session.LastLongitude, session.LastSpeed, session.LastHeading, session.LastPositionAt,
		session.PositionsCount, session.TotalDistanceM)
	if err != nil {
		return fmt.Errorf("update session %s: %w", session.ID, err)
	}
	return nil
}

func (s *PgStore) LoadSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM tracking_sessions WHERE id=$1`, id)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session %s: %w", id, err)
	}
	return session, nil
}

func (s *PgStore) LoadActiveByVehicle(ctx context.Context, vehicleID string) ([]Session, error) {
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+`
		FROM tracking_sessions
		WHERE vehicle_id=$1 AND is_active
		ORDER BY started_at DESC
	`, vehicleID)
}

func (s *PgStore) LoadActive(ctx context.Context) ([]Session, error) {
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+`
		FROM tracking_sessions
		WHERE is_active
		ORDER BY started_at
	`)
}

func (s *PgStore) LoadHistory(ctx context.Context, vehicleID string, limit int) ([]Session, error) {
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+`
		FROM tracking_sessions
		WHERE vehicle_id=$1
		ORDER BY started_at DESC
		LIMIT $2
	`, vehicleID, limit)
}

func (s *PgStore) AppendPosition(ctx context.Context, p PositionSample) (PositionSample, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO position_samples (session_id, vehicle_id, latitude, longitude, altitude, speed, heading, accuracy, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id, created_at
	`, p.SessionID, p.VehicleID, p.Latitude, p.Longitude, p.Altitude, p.Speed, p.Heading, p.Accuracy, p.RecordedAt)
	if err := row.Scan(&p.ID, &p.CreatedAt); err != nil {
		return PositionSample{}, fmt.Errorf("append position to %s: %w", p.SessionID, err)
	}
	return p, nil
}

func (s *PgStore) Positions(ctx context.Context, sessionID string) ([]PositionSample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, vehicle_id, latitude, longitude, altitude, speed, heading, accuracy, recorded_at, created_at
		FROM position_samples WHERE session_id=$1
		ORDER BY recorded_at, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []PositionSample
	for rows.Next() {
		var p PositionSample
		var altitude, speed, heading, accuracy pgtype.Float8
		if err := rows.Scan(&p.ID, &p.SessionID, &p.VehicleID, &p.Latitude, &p.Longitude,
			&altitude, &speed, &heading, &accuracy, &p.RecordedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Altitude = floatPtr(altitude)
		p.Speed = floatPtr(speed)
		p.Heading = floatPtr(heading)
		p.Accuracy = floatPtr(accuracy)
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *PgStore) querySessions(ctx context.Context, sql string, args ...any) ([]Session, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var state string
	var endedAt, lastPositionAt pgtype.Timestamptz
	var lat, lng, speed, heading pgtype.Float8
	err := row.Scan(&s.ID, &s.VehicleID, &s.DriverID, &s.DriverName, &s.DriverPhone, &s.MissionID,
		&s.StartedAt, &endedAt, &s.Active, &state,
		&lat, &lng, &speed, &heading, &lastPositionAt,
		&s.PositionsCount, &s.TotalDistanceM)
	if err != nil {
		return Session{}, err
	}
	s.State = State(state)
	s.EndedAt = timePtr(endedAt)
	s.LastPositionAt = timePtr(lastPositionAt)
	s.LastLatitude = floatPtr(lat)
	s.LastLongitude = floatPtr(lng)
	s.LastSpeed = floatPtr(speed)
	s.LastHeading = floatPtr(heading)
	return s, nil
}

func floatPtr(v pgtype.Float8) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func timePtr(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
