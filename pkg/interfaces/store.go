package interfaces

import (
	"context"

	"geochat/pkg/types"
)

// SpatialStore owns position data and per-identity profile metadata. The
// two records are written as one atomic pair: every identity present in the
// geospatial index has exactly one profile and vice versa. Implementations
// assume validated coordinates; range checking belongs to the caller.
type SpatialStore interface {
	// Upsert writes or overwrites the position and profile for an identity
	// and reports whether the identity was newly created.
	Upsert(ctx context.Context, id, name string, lat, lon float64) (created bool, err error)

	// Position returns the stored coordinates for an identity. ok is false
	// if the identity was never added.
	Position(ctx context.Context, id string) (lat, lon float64, ok bool, err error)

	// DisplayName returns the profile display name for an identity.
	DisplayName(ctx context.Context, id string) (name string, ok bool, err error)

	// Distance computes the great-circle distance between two registered
	// identities in the given unit ("m", "km", "mi", "ft"). ok is false if
	// either identity is unknown.
	Distance(ctx context.Context, a, b, unit string) (dist float64, ok bool, err error)

	// WithinRadius returns all identities within radiusKm of the center,
	// ascending by distance.
	WithinRadius(ctx context.Context, lat, lon, radiusKm float64) ([]types.Neighbor, error)

	// WithinRadiusOfMember is WithinRadius centered on an existing member.
	// Returns ErrUnknownMember if the identity is not registered.
	WithinRadiusOfMember(ctx context.Context, id string, radiusKm float64) ([]types.Neighbor, error)

	// Remove deletes the position and profile together and reports whether
	// either existed.
	Remove(ctx context.Context, id string) (removed bool, err error)

	// ListAll returns a snapshot of the full membership.
	ListAll(ctx context.Context) ([]types.UserPosition, error)

	// NextSequence increments and returns the persisted identity counter.
	NextSequence(ctx context.Context) (int64, error)

	// Clear removes all members and resets the sequence counter. Used only
	// at service (re)initialization.
	Clear(ctx context.Context) error

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the backing store.
	Close() error
}

// Relay is the external answer-service collaborator for the synthetic
// participant. Ask is a synchronous round trip bounded by ctx.
type Relay interface {
	Ask(ctx context.Context, sender, query string) (answer string, err error)
}
