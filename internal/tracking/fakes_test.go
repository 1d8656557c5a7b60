package tracking

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var errTrack = errors.New("track error")

// memStore mirrors PgStore semantics, including the stale-write guard.
type memStore struct {
	mu        sync.Mutex
	sessions  map[string]Session
	positions map[string][]PositionSample
	nextID    int64

	failAppend bool
	failUpdate bool
	failLoad   bool
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]Session{}, positions: map[string][]PositionSample{}}
}

func (s *memStore) CreateSession(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.sessions {
		if other.VehicleID == session.VehicleID && other.Active {
			return ErrConflict
		}
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *memStore) UpdateSession(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate {
		return errTrack
	}
	stored, ok := s.sessions[session.ID]
	if !ok || !stored.Active || stored.PositionsCount > session.PositionsCount {
		return nil
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *memStore) LoadSession(_ context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLoad {
		return Session{}, errTrack
	}
	session, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return cloneSession(session), nil
}

func (s *memStore) LoadActiveByVehicle(_ context.Context, vehicleID string) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Session
	for _, session := range s.sessions {
		if session.VehicleID == vehicleID && session.Active {
			out = append(out, cloneSession(session))
		}
	}
	return out, nil
}

func (s *memStore) LoadActive(_ context.Context) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLoad {
		return nil, errTrack
	}
	var out []Session
	for _, session := range s.sessions {
		if session.Active {
			out = append(out, cloneSession(session))
		}
	}
	return out, nil
}

func (s *memStore) LoadHistory(_ context.Context, vehicleID string, limit int) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Session
	for _, session := range s.sessions {
		if session.VehicleID == vehicleID {
			out = append(out, cloneSession(session))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) AppendPosition(_ context.Context, p PositionSample) (PositionSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		return PositionSample{}, errTrack
	}
	s.nextID++
	p.ID = s.nextID
	s.positions[p.SessionID] = append(s.positions[p.SessionID], p)
	return p, nil
}

func (s *memStore) Positions(_ context.Context, sessionID string) ([]PositionSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PositionSample(nil), s.positions[sessionID]...), nil
}

func (s *memStore) stored(id string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

type recordingPublisher struct {
	mu        sync.Mutex
	positions []PositionSample
	events    []Event
}

func (p *recordingPublisher) PublishPosition(_ context.Context, _ Session, sample PositionSample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions = append(p.positions, sample)
}

func (p *recordingPublisher) PublishEvent(_ context.Context, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) eventTypes() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
