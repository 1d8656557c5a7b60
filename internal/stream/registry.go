package stream

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrInvariantViolation marks a forward/reverse mismatch inside a Registry.
// It is only ever logged.
var ErrInvariantViolation = errors.New("subscription registry inconsistent")

// Registry indexes which connections watch which vehicles.
//
// byConn and byVehicle mirror each other: conn C is in byVehicle[V] iff V is
// in byConn[C]. Members of all receive every vehicle. Every method holds mu
// for the few map operations it performs and never does I/O.
type Registry struct {
	mu        sync.Mutex
	byConn    map[string]map[string]struct{}
	byVehicle map[string]map[string]struct{}
	all       map[string]struct{}
	logger    *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byConn:    map[string]map[string]struct{}{},
		byVehicle: map[string]map[string]struct{}{},
		all:       map[string]struct{}{},
		logger:    logger,
	}
}

func (r *Registry) Subscribe(connID, vehicleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byConn[connID] == nil {
		r.byConn[connID] = map[string]struct{}{}
	}
	r.byConn[connID][vehicleID] = struct{}{}

	if r.byVehicle[vehicleID] == nil {
		r.byVehicle[vehicleID] = map[string]struct{}{}
	}
	r.byVehicle[vehicleID][connID] = struct{}{}
}

func (r *Registry) Unsubscribe(connID, vehicleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unlink(connID, vehicleID)
}

func (r *Registry) SubscribeAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all[connID] = struct{}{}
}

func (r *Registry) UnsubscribeAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.all, connID)
}

// RecipientsFor returns every connection that should see an update for
// vehicleID. A connection watching both the vehicle and all vehicles appears
// once.
func (r *Registry) RecipientsFor(vehicleID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	watchers := r.byVehicle[vehicleID]
	out := make([]string, 0, len(watchers)+len(r.all))
	for connID := range watchers {
		out = append(out, connID)
	}
	for connID := range r.all {
		if _, direct := watchers[connID]; direct {
			continue
		}
		out = append(out, connID)
	}
	return out
}

// DropConnection forgets everything connID subscribed to. Unknown ids are a no-op.
func (r *Registry) DropConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for vehicleID := range r.byConn[connID] {
		r.unlink(connID, vehicleID)
	}
	delete(r.byConn, connID)
	delete(r.all, connID)
}

// SubscribedVehicles returns the vehicle ids connID watches directly, sorted.
func (r *Registry) SubscribedVehicles(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.byConn[connID]))
	for vehicleID := range r.byConn[connID] {
		out = append(out, vehicleID)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) WatchesAll(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.all[connID]
	return ok
}

// unlink removes both directions of (connID, vehicleID) and prunes empty
// sets. Caller holds mu.
func (r *Registry) unlink(connID, vehicleID string) {
	vehicles, forward := r.byConn[connID]
	if forward {
		_, forward = vehicles[vehicleID]
	}
	conns, reverse := r.byVehicle[vehicleID]
	if reverse {
		_, reverse = conns[connID]
	}
	if forward != reverse {
		r.logger.Error("registry mismatch",
			zap.String("conn_id", connID),
			zap.String("vehicle_id", vehicleID),
			zap.Bool("forward", forward),
			zap.Bool("reverse", reverse),
			zap.Error(ErrInvariantViolation))
	}

	if vehicles != nil {
		delete(vehicles, vehicleID)
		if len(vehicles) == 0 {
			delete(r.byConn, connID)
		}
	}
	if conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byVehicle, vehicleID)
		}
	}
}

// check walks both maps and returns ErrInvariantViolation on the first
// pair present in only one direction.
func (r *Registry) check() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for connID, vehicles := range r.byConn {
		if len(vehicles) == 0 {
			return ErrInvariantViolation
		}
		for vehicleID := range vehicles {
			if _, ok := r.byVehicle[vehicleID][connID]; !ok {
				return ErrInvariantViolation
			}
		}
	}
	for vehicleID, conns := range r.byVehicle {
		if len(conns) == 0 {
			return ErrInvariantViolation
		}
		for connID := range conns {
			if _, ok := r.byConn[connID][vehicleID]; !ok {
				return ErrInvariantViolation
			}
		}
	}
	return nil
}
