package fleet

import (
	"context"
	"errors"
	"fmt"

	"backend-fleettrack/internal/db"

	"github.com/jackc/pgx/v5"
)

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// Profile joins the vehicle with its assigned driver and its most recent
// in-progress mission.
func (s *Service) Profile(ctx context.Context, vehicleID string) (Profile, error) {
	var p Profile
	err := s.db.QueryRow(ctx, `
		SELECT v.id, v.plate_number, COALESCE(v.vehicle_type,''), COALESCE(v.brand,''), COALESCE(v.model,''),
		       COALESCE(d.id,''), COALESCE(d.name,''), COALESCE(d.phone,''),
		       COALESCE((
		           SELECT m.id FROM missions m
		           WHERE m.vehicle_id = v.id AND m.status = 'in_progress'
		           ORDER BY m.started_at DESC NULLS LAST
		           LIMIT 1
		       ),'')
		FROM vehicles v
		LEFT JOIN drivers d ON d.id = v.driver_id
		WHERE v.id=$1
	`, vehicleID).Scan(&p.VehicleID, &p.PlateNumber, &p.VehicleType, &p.Brand, &p.Model,
		&p.DriverID, &p.DriverName, &p.DriverPhone, &p.MissionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("load vehicle profile %s: %w", vehicleID, err)
	}
	return p, nil
}
