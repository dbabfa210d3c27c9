package presence

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"geochat/pkg/interfaces"
	"geochat/pkg/types"
)

// Validation messages surfaced to clients. Every applicable message is
// collected and returned together; validation never short-circuits on the
// first failure.
const (
	MsgNameRequired     = "name is required"
	MsgLatitudeInvalid  = "latitude must be a valid number"
	MsgLatitudeRange    = "latitude must be between -90 and 90"
	MsgLongitudeInvalid = "longitude must be a valid number"
	MsgLongitudeRange   = "longitude must be between -180 and 180"
)

// Service validates location submissions and applies them to the spatial
// store. It is the only component allowed to hand coordinates to the store,
// so the store can treat out-of-range input as a programming error.
type Service struct {
	store interfaces.SpatialStore
	log   *zap.Logger
}

// Result is one applied location submission.
type Result struct {
	User    types.UserPosition
	Created bool
}

// New creates a presence service over the given store.
func New(store interfaces.SpatialStore, log *zap.Logger) *Service {
	return &Service{store: store, log: log}
}

// SubmitLocation validates a raw submission and, only when zero validation
// errors were collected, applies it to the store. Identity resolution is
// id-wins: a supplied id is the identity and name is display metadata; when
// id is empty an identity is synthesized from the persisted sequence
// counter. The returned string slice holds validation errors for the
// client; the error return is reserved for store failures.
func (s *Service) SubmitLocation(ctx context.Context, id, name string, rawLat, rawLon any) (*Result, []string, error) {
	var errs []string

	if name == "" {
		errs = append(errs, MsgNameRequired)
	}

	lat, ok := types.Coordinate(rawLat)
	if !ok {
		errs = append(errs, MsgLatitudeInvalid)
	} else if !types.IsValidLatitude(lat) {
		errs = append(errs, MsgLatitudeRange)
	}

	lon, ok := types.Coordinate(rawLon)
	if !ok {
		errs = append(errs, MsgLongitudeInvalid)
	} else if !types.IsValidLongitude(lon) {
		errs = append(errs, MsgLongitudeRange)
	}

	if len(errs) > 0 {
		return nil, errs, nil
	}

	if id == "" {
		seq, err := s.store.NextSequence(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("synthesize identity: %w", err)
		}
		id = fmt.Sprintf("user_%d", seq)
	}

	created, err := s.store.Upsert(ctx, id, name, lat, lon)
	if err != nil {
		return nil, nil, fmt.Errorf("apply location for %s: %w", id, err)
	}

	s.log.Info("location applied",
		zap.String("id", id),
		zap.String("name", name),
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
		zap.Bool("created", created))

	return &Result{
		User:    types.UserPosition{ID: id, Name: name, Latitude: lat, Longitude: lon},
		Created: created,
	}, nil, nil
}

// Remove deletes an identity's position and profile together. Reports
// whether anything was removed.
func (s *Service) Remove(ctx context.Context, id string) (bool, error) {
	removed, err := s.store.Remove(ctx, id)
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", id, err)
	}
	if removed {
		s.log.Info("member removed", zap.String("id", id))
	}
	return removed, nil
}

// Roster returns the full membership snapshot for all_users broadcasts and
// the HTTP listing.
func (s *Service) Roster(ctx context.Context) ([]types.UserPosition, error) {
	return s.store.ListAll(ctx)
}
