package rides

import (
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/storage"
)

// Registry is the rideId -> *Ride map. It does not own timers; each Ride
// owns and cancels its own, exactly as the concurrency model requires.
type Registry struct {
	mu    sync.Mutex
	rides map[string]*Ride

	Audit  storage.AuditStore
	Logger *slog.Logger
}

func NewRegistry(audit storage.AuditStore, logger *slog.Logger) *Registry {
	if audit == nil {
		audit = storage.Noop{}
	}
	return &Registry{rides: make(map[string]*Ride), Audit: audit, Logger: logger}
}

func (reg *Registry) Create(r *Ride) {
	reg.mu.Lock()
	reg.rides[r.ID] = r
	reg.mu.Unlock()
	var snap Snapshot
	r.WithLock(func(r *Ride) { snap = r.AuditSnapshot() })
	reg.recordAsync(snap, true)
}

func (reg *Registry) Get(rideID string) (*Ride, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rides[rideID]
	return r, ok
}

// Delete removes a ride and cancels whatever timers it still holds. Callers
// that are deleting after a terminal status should hold the ride's own lock
// only for the transition itself, not across this call.
func (reg *Registry) Delete(rideID string) {
	reg.mu.Lock()
	r, ok := reg.rides[rideID]
	delete(reg.rides, rideID)
	reg.mu.Unlock()
	if ok {
		r.CancelAllTimers()
	}
}

// RecordTransition fires a best-effort async audit write for a ride whose
// status just changed. It never blocks the caller and never affects the
// in-memory result; it is how the Postgres-backed audit trail stays fed
// from exactly the same transition points as the live state machine.
//
// snap must be taken via Ride.AuditSnapshot from inside the same WithLock
// closure that performed the transition — never re-derived from the Ride
// after its lock has been released, or this races every other goroutine
// that can still mutate the same fields through WithLock.
func (reg *Registry) RecordTransition(snap Snapshot) {
	reg.recordAsync(snap, false)
}

func (reg *Registry) recordAsync(snap Snapshot, isCreate bool) {
	go func() {
		rec := storage.AuditRecord{
			RideID:          snap.RideID,
			PassengerConnID: snap.PassengerConnID,
			DriverConnID:    snap.DriverConnID,
			OriginLat:       snap.Origin.Lat,
			OriginLng:       snap.Origin.Lng,
			DestLat:         snap.Dest.Lat,
			DestLng:         snap.Dest.Lng,
			Status:          snap.Status,
			Fare:            snap.Fare,
			CreatedAt:       snap.CreatedAt,
			UpdatedAt:       time.Now(),
		}
		var err error
		if isCreate {
			err = reg.Audit.SaveRide(rec)
		} else {
			err = reg.Audit.UpdateRide(rec)
		}
		if err != nil && reg.Logger != nil {
			reg.Logger.Warn("ride audit write failed", "rideId", snap.RideID, "error", err)
		}
	}()
}
