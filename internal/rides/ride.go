// Package rides owns the per-ride state machine: pickup/destination,
// outstanding offers, the round counter, and the ride's own timer handles.
// The auction scheduler, acceptance arbiter, and session router all mutate
// a Ride inside its WithLock method, which holds the ride's own mutex so
// state transitions are always serialized per ride.
package rides

import (
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Ride is one active ride-id. Every field below mu is guarded by it;
// callers MUST go through the locking methods rather than touching fields
// directly from outside the package.
type Ride struct {
	mu sync.Mutex

	ID                 string
	Status             models.RideStatus
	PassengerConnID    string
	PassengerName      string
	PickupAddress      string
	DestinationAddress string
	Pickup             models.Coordinate
	Destination        models.Coordinate
	RoutePolyline      string
	Fare               float64
	FareHoldID         string

	Offered      map[string]*models.RideOffer
	OfferedConns map[string]struct{}
	WinnerConnID string
	Round        int

	auctionTimer *time.Timer
	lingerTimer  *time.Timer

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New builds a SEARCHING ride from a nova_corrida request.
func New(rideID, passengerConnID string, p models.NovaCorridaPayload) *Ride {
	now := time.Now()
	return &Ride{
		ID:                 rideID,
		Status:             models.RideSearching,
		PassengerConnID:    passengerConnID,
		PassengerName:      p.PassengerName,
		PickupAddress:      p.PickupAddress,
		DestinationAddress: p.DestinationAddress,
		Pickup:             models.Coordinate{Lat: p.PickupLocation.Latitude, Lng: p.PickupLocation.Longitude},
		Destination:        models.Coordinate{Lat: p.DestinationLocation.Latitude, Lng: p.DestinationLocation.Longitude},
		RoutePolyline:      p.RoutePolyline,
		Fare:               p.Fare,
		Offered:            make(map[string]*models.RideOffer),
		OfferedConns:       make(map[string]struct{}),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// WithLock runs fn while holding the ride's mutex. Every exported mutation
// in the scheduler/arbiter/session packages goes through this so "one
// mutex per ride" is structural rather than a convention callers can miss.
func (r *Ride) WithLock(fn func(r *Ride)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

// CancelAuctionTimer stops and clears any live auction/retry timer. Every
// transition out of SEARCHING MUST call this while holding the lock.
func (r *Ride) CancelAuctionTimer() {
	if r.auctionTimer != nil {
		r.auctionTimer.Stop()
		r.auctionTimer = nil
	}
}

// ArmAuctionTimer cancels any prior timer and installs a new one. Must be
// called while holding the lock.
func (r *Ride) ArmAuctionTimer(d time.Duration, fire func()) {
	r.CancelAuctionTimer()
	r.auctionTimer = time.AfterFunc(d, fire)
}

// ArmLingerTimer schedules the post-terminal cleanup. Must be called while
// holding the lock.
func (r *Ride) ArmLingerTimer(d time.Duration, fire func()) {
	if r.lingerTimer != nil {
		r.lingerTimer.Stop()
	}
	r.lingerTimer = time.AfterFunc(d, fire)
}

// CancelAllTimers is called on deletion so no timer outlives its ride.
func (r *Ride) CancelAllTimers() {
	r.CancelAuctionTimer()
	if r.lingerTimer != nil {
		r.lingerTimer.Stop()
		r.lingerTimer = nil
	}
}

// PendingOffersExcept returns the offerIds still PENDING other than keep.
func (r *Ride) PendingOffersExcept(keep string) []*models.RideOffer {
	out := make([]*models.RideOffer, 0, len(r.Offered))
	for id, off := range r.Offered {
		if id == keep {
			continue
		}
		if off.State == models.OfferPending {
			out = append(out, off)
		}
	}
	return out
}

// Snapshot is a point-in-time copy of the audit-relevant fields of a
// Ride. Unlike *Ride itself, it carries no mutex and no reference back
// into live state, so it is safe to hand to a goroutine, or to a caller,
// after the lock that produced it has been released.
type Snapshot struct {
	RideID          string
	PassengerConnID string
	DriverConnID    string
	Origin          models.Coordinate
	Dest            models.Coordinate
	Status          string
	Fare            float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AuditSnapshot renders the fields the write-behind audit store cares
// about. MUST be called while the lock is held — take it from inside the
// same WithLock closure that performed the transition, never after.
func (r *Ride) AuditSnapshot() Snapshot {
	return Snapshot{
		RideID:          r.ID,
		PassengerConnID: r.PassengerConnID,
		DriverConnID:    r.WinnerConnID,
		Origin:          r.Pickup,
		Dest:            r.Destination,
		Status:          r.Status.String(),
		Fare:            r.Fare,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}
