package tracking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"backend-fleettrack/internal/shared/geo"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// Publisher receives every accepted position and lifecycle event. It must not
// fail the caller; delivery problems are its own to log.
type Publisher interface {
	PublishPosition(ctx context.Context, session Session, sample PositionSample)
	PublishEvent(ctx context.Context, event Event)
}

// Manager owns active tracking sessions.
//
// mu only guards the index maps. Each session carries its own mutex, held
// while its aggregates or state change and never across store calls, so
// unrelated sessions never contend. ingestMu serializes the positions of a
// single session across their store writes; stop and sweep never take it.
// Timeouts whose final write failed wait in unpersisted for the next sweep.
type Manager struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	validate  *validator.Validate
	now       func() time.Time

	mu          sync.Mutex
	active      map[string]*liveSession
	byVehicle   map[string]map[string]*liveSession
	unpersisted map[string]Session
}

type liveSession struct {
	ingestMu sync.Mutex

	mu      sync.Mutex
	session Session
}

func NewManager(store Store, publisher Publisher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:       store,
		publisher:   publisher,
		logger:      logger,
		validate:    validator.New(),
		now:         time.Now,
		active:      map[string]*liveSession{},
		byVehicle:   map[string]map[string]*liveSession{},
		unpersisted: map[string]Session{},
	}
}

// Restore loads sessions the store still marks active, e.g. after a restart,
// so the sweep can close them if their vehicles went quiet.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	sessions, err := m.store.LoadActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore active sessions: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	restored := 0
	for _, s := range sessions {
		if _, ok := m.active[s.ID]; ok {
			continue
		}
		if _, closed := m.unpersisted[s.ID]; closed {
			continue
		}
		m.index(&liveSession{session: s})
		restored++
	}
	return restored, nil
}

// Start opens a new session for req.VehicleID. Any session still active for
// that vehicle is stopped first so a straggler is closed explicitly rather
// than left to time out.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Session, error) {
	if err := m.validate.Struct(req); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	stopped, err := m.StopAllForVehicle(ctx, req.VehicleID)
	if err != nil {
		// the unique active index turns a lingering row into ErrConflict below
		m.logger.Error("failed to stop previous session",
			zap.String("vehicle_id", req.VehicleID), zap.Error(err))
	}
	if stopped {
		m.logger.Warn("stopped previous active session before starting a new one",
			zap.String("vehicle_id", req.VehicleID))
	}

	session := Session{
		ID:          uuid.NewString(),
		VehicleID:   req.VehicleID,
		DriverID:    req.DriverID,
		DriverName:  req.DriverName,
		DriverPhone: req.DriverPhone,
		MissionID:   req.MissionID,
		StartedAt:   m.now().UTC(),
		Active:      true,
		State:       StateActive,
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return Session{}, err
	}

	live := &liveSession{session: session}
	m.mu.Lock()
	var rivals []*liveSession
	for _, other := range m.byVehicle[session.VehicleID] {
		rivals = append(rivals, other)
	}
	m.index(live)
	m.mu.Unlock()

	// a concurrent Start for the same vehicle slipped in between; newest wins
	for _, other := range rivals {
		if _, err := m.stopLive(ctx, other); err != nil {
			m.logger.Error("failed to stop concurrent session",
				zap.String("session_id", other.session.ID), zap.Error(err))
		}
	}

	m.logger.Info("tracking session started",
		zap.String("session_id", session.ID), zap.String("vehicle_id", session.VehicleID))
	m.publishEvent(ctx, EventSessionStarted, session)
	return session, nil
}

// IngestPosition records one position for sessionID and returns the updated
// session snapshot together with the stored sample.
func (m *Manager) IngestPosition(ctx context.Context, sessionID string, input PositionInput) (Session, PositionSample, error) {
	if err := m.validate.Struct(input); err != nil {
		return Session{}, PositionSample{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	live := m.lookup(sessionID)
	if live == nil {
		return Session{}, PositionSample{}, m.closedOrMissing(ctx, sessionID)
	}

	recordedAt := input.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = m.now()
	}
	recordedAt = recordedAt.UTC()

	// ingestMu orders the positions of one session; aggregates are only
	// applied once the sample is stored.
	live.ingestMu.Lock()
	defer live.ingestMu.Unlock()

	live.mu.Lock()
	if !live.session.Active {
		live.mu.Unlock()
		return Session{}, PositionSample{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionClosed)
	}
	next := cloneSession(live.session)
	live.mu.Unlock()

	if next.LastPositionAt != nil && next.LastLatitude != nil && next.LastLongitude != nil {
		next.TotalDistanceM += geo.DistanceMeters(
			geo.Coordinate{Lat: *next.LastLatitude, Lng: *next.LastLongitude},
			geo.Coordinate{Lat: input.Latitude, Lng: input.Longitude},
		)
	}
	lat, lng := input.Latitude, input.Longitude
	next.LastLatitude = &lat
	next.LastLongitude = &lng
	next.LastSpeed = copyFloat(input.Speed)
	next.LastHeading = copyFloat(input.Heading)
	next.LastPositionAt = &recordedAt
	next.PositionsCount++

	sample, err := m.store.AppendPosition(ctx, PositionSample{
		SessionID:  next.ID,
		VehicleID:  next.VehicleID,
		Latitude:   input.Latitude,
		Longitude:  input.Longitude,
		Altitude:   copyFloat(input.Altitude),
		Speed:      copyFloat(input.Speed),
		Heading:    copyFloat(input.Heading),
		Accuracy:   copyFloat(input.Accuracy),
		RecordedAt: recordedAt,
	})
	if err != nil {
		return Session{}, PositionSample{}, err
	}

	live.mu.Lock()
	if !live.session.Active {
		// closed while the sample was written; the sample stays as history
		live.mu.Unlock()
		return Session{}, PositionSample{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionClosed)
	}
	s := &live.session
	s.LastLatitude = next.LastLatitude
	s.LastLongitude = next.LastLongitude
	s.LastSpeed = next.LastSpeed
	s.LastHeading = next.LastHeading
	s.LastPositionAt = next.LastPositionAt
	s.PositionsCount = next.PositionsCount
	s.TotalDistanceM = next.TotalDistanceM
	snapshot := cloneSession(*s)
	live.mu.Unlock()

	if err := m.store.UpdateSession(ctx, snapshot); err != nil {
		// the next accepted position rewrites the absolute aggregates
		m.logger.Warn("failed to persist session aggregates",
			zap.String("session_id", snapshot.ID), zap.Error(err))
	}

	if m.publisher != nil {
		m.publisher.PublishPosition(ctx, snapshot, sample)
	}
	return snapshot, sample, nil
}

// Stop ends sessionID. It reports false when the session is unknown or
// already closed. A session the store still holds active without a live
// counterpart, e.g. after a failed write, is stopped in the store.
func (m *Manager) Stop(ctx context.Context, sessionID string) (bool, error) {
	live := m.lookup(sessionID)
	if live != nil {
		return m.stopLive(ctx, live)
	}

	stored, err := m.store.LoadSession(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !stored.Active {
		return false, nil
	}
	return true, m.stopStored(ctx, stored)
}

// StopAllForVehicle stops every active session of vehicleID and reports
// whether any was stopped.
func (m *Manager) StopAllForVehicle(ctx context.Context, vehicleID string) (bool, error) {
	m.mu.Lock()
	var targets []*liveSession
	for _, live := range m.byVehicle[vehicleID] {
		targets = append(targets, live)
	}
	m.mu.Unlock()

	stoppedAny := false
	for _, live := range targets {
		stopped, err := m.stopLive(ctx, live)
		if err != nil {
			return stoppedAny, err
		}
		stoppedAny = stoppedAny || stopped
	}

	// rows left active by a failed write or by another process
	stored, err := m.store.LoadActiveByVehicle(ctx, vehicleID)
	if err != nil {
		return stoppedAny, err
	}
	for _, session := range stored {
		if m.lookup(session.ID) != nil {
			continue
		}
		if err := m.stopStored(ctx, session); err != nil {
			return stoppedAny, err
		}
		stoppedAny = true
	}
	return stoppedAny, nil
}

func (m *Manager) stopStored(ctx context.Context, session Session) error {
	ended := m.now().UTC()
	session.Active = false
	session.State = StateStopped
	session.EndedAt = &ended
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return err
	}
	m.forget(session.ID)
	m.logger.Info("stale tracking session stopped",
		zap.String("session_id", session.ID), zap.String("vehicle_id", session.VehicleID))
	m.publishEvent(ctx, EventSessionStopped, session)
	return nil
}

func (m *Manager) stopLive(ctx context.Context, live *liveSession) (bool, error) {
	snapshot, ok := m.close(live, StateStopped)
	if !ok {
		return false, nil
	}
	if err := m.store.UpdateSession(ctx, snapshot); err != nil {
		return true, err
	}
	m.logger.Info("tracking session stopped",
		zap.String("session_id", snapshot.ID), zap.String("vehicle_id", snapshot.VehicleID))
	m.publishEvent(ctx, EventSessionStopped, snapshot)
	return true, nil
}

// SweepInactive closes every active session whose last activity is at least
// timeout old and returns their ids. Store failures are logged per session
// and never abort the sweep.
func (m *Manager) SweepInactive(ctx context.Context, timeout time.Duration) []string {
	cutoff := m.now().Add(-timeout)

	m.mu.Lock()
	candidates := make([]*liveSession, 0, len(m.active))
	for _, live := range m.active {
		candidates = append(candidates, live)
	}
	retries := make([]Session, 0, len(m.unpersisted))
	for _, snapshot := range m.unpersisted {
		retries = append(retries, snapshot)
	}
	m.mu.Unlock()

	for _, snapshot := range retries {
		m.persistTimeout(ctx, snapshot)
	}

	var swept []string
	for _, live := range candidates {
		snapshot, ok := m.closeIfExpired(live, cutoff)
		if !ok {
			continue
		}
		swept = append(swept, snapshot.ID)
		m.persistTimeout(ctx, snapshot)
	}
	return swept
}

// persistTimeout writes a timed out session. A failed write is kept and
// retried on the next sweep so the store does not keep the row active.
func (m *Manager) persistTimeout(ctx context.Context, snapshot Session) {
	if err := m.store.UpdateSession(ctx, snapshot); err != nil {
		m.logger.Error("failed to persist timed out session",
			zap.String("session_id", snapshot.ID), zap.Error(err))
		m.mu.Lock()
		m.unpersisted[snapshot.ID] = snapshot
		m.mu.Unlock()
		return
	}
	m.forget(snapshot.ID)
	m.logger.Info("tracking session timed out",
		zap.String("session_id", snapshot.ID),
		zap.String("vehicle_id", snapshot.VehicleID),
		zap.Time("last_activity", snapshot.LastActivity()))
	m.publishEvent(ctx, EventSessionTimedOut, snapshot)
}

// forget drops a pending timeout retry once the row is closed in the store.
func (m *Manager) forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.unpersisted, sessionID)
}

// PendingWrites reports closed sessions whose final state is not stored yet.
func (m *Manager) PendingWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.unpersisted)
}

func (m *Manager) GetByID(ctx context.Context, sessionID string) (Session, error) {
	if live := m.lookup(sessionID); live != nil {
		return live.snapshot(), nil
	}
	return m.store.LoadSession(ctx, sessionID)
}

// GetActiveForVehicle returns the vehicle's active session, if any.
func (m *Manager) GetActiveForVehicle(vehicleID string) (Session, bool) {
	m.mu.Lock()
	var newest *liveSession
	for _, live := range m.byVehicle[vehicleID] {
		if newest == nil || live.session.StartedAt.After(newest.session.StartedAt) {
			newest = live
		}
	}
	m.mu.Unlock()
	if newest == nil {
		return Session{}, false
	}
	return newest.snapshot(), true
}

// ListActive returns snapshots of all active sessions, oldest first.
func (m *Manager) ListActive() []Session {
	m.mu.Lock()
	lives := make([]*liveSession, 0, len(m.active))
	for _, live := range m.active {
		lives = append(lives, live)
	}
	m.mu.Unlock()

	sessions := make([]Session, 0, len(lives))
	for _, live := range lives {
		sessions = append(sessions, live.snapshot())
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	return sessions
}

func (m *Manager) History(ctx context.Context, vehicleID string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return m.store.LoadHistory(ctx, vehicleID, limit)
}

func (m *Manager) Positions(ctx context.Context, sessionID string) ([]PositionSample, error) {
	if _, err := m.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.store.Positions(ctx, sessionID)
}

func (m *Manager) Summary(ctx context.Context, sessionID string) (Summary, error) {
	session, err := m.GetByID(ctx, sessionID)
	if err != nil {
		return Summary{}, err
	}

	end := m.now()
	switch {
	case session.EndedAt != nil:
		end = *session.EndedAt
	case !session.Active:
		end = session.LastActivity()
	}
	duration := end.Sub(session.StartedAt)
	if duration < 0 {
		duration = 0
	}
	avgSpeed := 0.0
	if duration.Seconds() > 0 {
		avgSpeed = session.TotalDistanceM / duration.Seconds()
	}

	return Summary{
		SessionID:     session.ID,
		VehicleID:     session.VehicleID,
		State:         session.State,
		PointCount:    session.PositionsCount,
		DistanceM:     session.TotalDistanceM,
		DurationSec:   int64(duration.Seconds()),
		AverageSpeedM: avgSpeed,
	}, nil
}

func (m *Manager) lookup(sessionID string) *liveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[sessionID]
}

// index adds live to both maps. Caller holds mu.
func (m *Manager) index(live *liveSession) {
	m.active[live.session.ID] = live
	if m.byVehicle[live.session.VehicleID] == nil {
		m.byVehicle[live.session.VehicleID] = map[string]*liveSession{}
	}
	m.byVehicle[live.session.VehicleID][live.session.ID] = live
}

func (m *Manager) unindex(id, vehicleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
	if sessions := m.byVehicle[vehicleID]; sessions != nil {
		delete(sessions, id)
		if len(sessions) == 0 {
			delete(m.byVehicle, vehicleID)
		}
	}
}

// close moves live into a terminal state. Only the first caller wins.
func (m *Manager) close(live *liveSession, state State) (Session, bool) {
	live.mu.Lock()
	if !live.session.Active {
		live.mu.Unlock()
		return Session{}, false
	}
	live.session.Active = false
	live.session.State = state
	if state == StateStopped {
		ended := m.now().UTC()
		live.session.EndedAt = &ended
	}
	snapshot := cloneSession(live.session)
	live.mu.Unlock()

	m.unindex(snapshot.ID, snapshot.VehicleID)
	return snapshot, true
}

// closeIfExpired re-checks expiry under the session lock so a position that
// landed after the scan keeps the session alive.
func (m *Manager) closeIfExpired(live *liveSession, cutoff time.Time) (Session, bool) {
	live.mu.Lock()
	if !live.session.Active || live.session.LastActivity().After(cutoff) {
		live.mu.Unlock()
		return Session{}, false
	}
	live.session.Active = false
	live.session.State = StateInactive
	snapshot := cloneSession(live.session)
	live.mu.Unlock()

	m.unindex(snapshot.ID, snapshot.VehicleID)
	return snapshot, true
}

// closedOrMissing tells a reporter whether its session ended or never existed.
func (m *Manager) closedOrMissing(ctx context.Context, sessionID string) error {
	stored, err := m.store.LoadSession(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if stored.Active {
		// active in the store but unknown here: owned by no manager since the last restore
		m.logger.Warn("ingest for unrestored active session", zap.String("session_id", sessionID))
	}
	return fmt.Errorf("session %s: %w", sessionID, ErrSessionClosed)
}

func (m *Manager) publishEvent(ctx context.Context, kind EventType, session Session) {
	if m.publisher == nil {
		return
	}
	m.publisher.PublishEvent(ctx, Event{Type: kind, At: m.now().UTC(), Session: session})
}

func (l *liveSession) snapshot() Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneSession(l.session)
}

// cloneSession deep-copies the pointer fields so snapshots never alias live state.
func cloneSession(s Session) Session {
	s.EndedAt = copyTime(s.EndedAt)
	s.LastPositionAt = copyTime(s.LastPositionAt)
	s.LastLatitude = copyFloat(s.LastLatitude)
	s.LastLongitude = copyFloat(s.LastLongitude)
	s.LastSpeed = copyFloat(s.LastSpeed)
	s.LastHeading = copyFloat(s.LastHeading)
	return s
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}

func copyTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
