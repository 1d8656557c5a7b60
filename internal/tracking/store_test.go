package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v3"
)

var sessionRowColumns = []string{"id", "vehicle_id", "driver_id", "driver_name", "driver_phone", "mission_id",
	"started_at", "ended_at", "is_active", "state",
	"last_latitude", "last_longitude", "last_speed", "last_heading", "last_position_at",
	"positions_count", "total_distance_m"}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PgStore) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	return mock, NewPgStore(mock)
}

func TestPgStoreCreateSession(t *testing.T) {
	mock, store := newMockStore(t)
	defer mock.Close()

	startedAt := time.Now().UTC()
	mock.ExpectExec(`INSERT INTO tracking_sessions`).
		WithArgs("s1", "V", "d1", "Ana", "", "m1", startedAt, true, "active", 0, 0.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.CreateSession(context.Background(), Session{
		ID: "s1", VehicleID: "V", DriverID: "d1", DriverName: "Ana", MissionID: "m1",
		StartedAt: startedAt, Active: true, State: StateActive,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	mock.ExpectExec(`INSERT INTO tracking_sessions`).
		WithArgs("s2", "V", "", "", "", "", startedAt, true, "active", 0, 0.0).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = store.CreateSession(context.Background(), Session{ID: "s2", VehicleID: "V", StartedAt: startedAt, Active: true, State: StateActive})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgStoreUpdateSessionGuardsStaleWrites(t *testing.T) {
	mock, store := newMockStore(t)
	defer mock.Close()

	mock.ExpectExec(`WHERE id=\$1 AND is_active AND positions_count <= \$10`).
		WithArgs("s1", pgxmock.AnyArg(), false, "inactive",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			3, 120.5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateSession(context.Background(), Session{ID: "s1", State: StateInactive, PositionsCount: 3, TotalDistanceM: 120.5})
	if err != nil {
		t.Fatalf("a dropped stale write is not an error: %v", err)
	}

	mock.ExpectExec(`UPDATE tracking_sessions`).WillReturnError(errTrack)
	if err := store.UpdateSession(context.Background(), Session{ID: "s1"}); !errors.Is(err, errTrack) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgStoreLoadSession(t *testing.T) {
	mock, store := newMockStore(t)
	defer mock.Close()

	startedAt := time.Now().UTC().Add(-time.Hour)
	lastAt := startedAt.Add(10 * time.Minute)
	mock.ExpectQuery(`FROM tracking_sessions WHERE id=\$1`).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows(sessionRowColumns).
			AddRow("s1", "V", "d1", "Ana", "+62", "m1",
				startedAt, nil, true, "active",
				48.8566, 2.3522, 12.0, nil, pgtype.Timestamptz{Time: lastAt, Valid: true},
				4, 250.0))

	session, err := store.LoadSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.VehicleID != "V" || session.State != StateActive || !session.Active || session.PositionsCount != 4 {
		t.Fatalf("unexpected session: %+v", session)
	}
	if session.EndedAt != nil || session.LastHeading != nil {
		t.Fatalf("null columns should stay nil: %+v", session)
	}
	if session.LastLatitude == nil || *session.LastLatitude != 48.8566 || *session.LastSpeed != 12 {
		t.Fatalf("unexpected last position: %+v", session)
	}
	if session.LastPositionAt == nil || !session.LastPositionAt.Equal(lastAt) {
		t.Fatalf("unexpected last position time: %v", session.LastPositionAt)
	}
	if !session.LastActivity().Equal(lastAt) {
		t.Fatalf("last activity should follow the last position")
	}

	mock.ExpectQuery(`FROM tracking_sessions WHERE id=\$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	if _, err := store.LoadSession(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgStoreLoadActiveAndHistory(t *testing.T) {
	mock, store := newMockStore(t)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`WHERE is_active`).
		WillReturnRows(pgxmock.NewRows(sessionRowColumns).
			AddRow("s1", "V", "", "", "", "", now, nil, true, "active", nil, nil, nil, nil, nil, 0, 0.0).
			AddRow("s2", "W", "", "", "", "", now, nil, true, "active", nil, nil, nil, nil, nil, 0, 0.0))

	active, err := store.LoadActive(context.Background())
	if err != nil {
		t.Fatalf("load active: %v", err)
	}
	if len(active) != 2 || active[1].VehicleID != "W" {
		t.Fatalf("unexpected active sessions: %+v", active)
	}

	mock.ExpectQuery(`WHERE vehicle_id=\$1\s+ORDER BY started_at DESC\s+LIMIT \$2`).
		WithArgs("V", 20).
		WillReturnRows(pgxmock.NewRows(sessionRowColumns).
			AddRow("s0", "V", "", "", "", "", now.Add(-time.Hour), pgtype.Timestamptz{Time: now, Valid: true}, false, "stopped", nil, nil, nil, nil, nil, 2, 10.0))

	history, err := store.LoadHistory(context.Background(), "V", 20)
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(history) != 1 || history[0].State != StateStopped || history[0].EndedAt == nil {
		t.Fatalf("unexpected history: %+v", history)
	}

	mock.ExpectQuery(`WHERE vehicle_id=\$1 AND is_active`).
		WithArgs("V").
		WillReturnError(errTrack)
	if _, err := store.LoadActiveByVehicle(context.Background(), "V"); !errors.Is(err, errTrack) {
		t.Fatalf("expected query error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgStorePositions(t *testing.T) {
	mock, store := newMockStore(t)
	defer mock.Close()

	recordedAt := time.Now().UTC()
	speed := 8.5
	mock.ExpectQuery(`INSERT INTO position_samples`).
		WithArgs("s1", "V", 1.5, 2.5, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), recordedAt).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), recordedAt))

	sample, err := store.AppendPosition(context.Background(), PositionSample{
		SessionID: "s1", VehicleID: "V", Latitude: 1.5, Longitude: 2.5, Speed: &speed, RecordedAt: recordedAt,
	})
	if err != nil {
		t.Fatalf("append position: %v", err)
	}
	if sample.ID != 7 || !sample.CreatedAt.Equal(recordedAt) {
		t.Fatalf("unexpected sample: %+v", sample)
	}

	mock.ExpectQuery(`FROM position_samples WHERE session_id=\$1`).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "session_id", "vehicle_id", "latitude", "longitude", "altitude", "speed", "heading", "accuracy", "recorded_at", "created_at"}).
			AddRow(int64(7), "s1", "V", 1.5, 2.5, nil, 8.5, nil, 3.0, recordedAt, recordedAt))

	points, err := store.Positions(context.Background(), "s1")
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(points) != 1 || points[0].Altitude != nil || *points[0].Speed != 8.5 || *points[0].Accuracy != 3 {
		t.Fatalf("unexpected points: %+v", points)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
