// Package drivers owns driver presence: one record per currently connected
// driver, keyed by connection id. The default backend is an in-memory map
// guarded by a single mutex, matching the "one lock for the registry"
// requirement; a Redis GEO-backed backend is available for deployments that
// front more than one gateway process.
package drivers

import (
	"math"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// Presence is one driver's availability and last-known location.
type Presence struct {
	ConnID    string
	DriverID  *string
	Available bool
	Last      *models.LocationFix
}

// Registry is the mutator/reader surface required by the gateway, the
// candidate selector, and the session router.
type Registry interface {
	Register(connID string, driverID *string)
	SetAvailable(connID string, available bool) bool
	UpdateLocation(connID string, lat, lng float64, atMs int64) bool
	Get(connID string) (Presence, bool)
	Remove(connID string)
	All() []Presence
}

// InMemory is the default Registry: a map guarded by one mutex, so every
// mutation is serialized exactly as the concurrency model requires.
type InMemory struct {
	mu       sync.Mutex
	presence map[string]Presence
}

func NewInMemory() *InMemory {
	return &InMemory{presence: make(map[string]Presence)}
}

func (r *InMemory) Register(connID string, driverID *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence[connID] = Presence{ConnID: connID, DriverID: driverID, Available: false}
}

func (r *InMemory) SetAvailable(connID string, available bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.presence[connID]
	if !ok {
		return false
	}
	p.Available = available
	r.presence[connID] = p
	return true
}

func (r *InMemory) UpdateLocation(connID string, lat, lng float64, atMs int64) bool {
	if !finite(lat) || !finite(lng) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.presence[connID]
	if !ok {
		return false
	}
	p.Last = &models.LocationFix{Coordinate: models.Coordinate{Lat: lat, Lng: lng}, AtMs: atMs}
	r.presence[connID] = p
	return true
}

func (r *InMemory) Get(connID string) (Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.presence[connID]
	return p, ok
}

func (r *InMemory) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.presence, connID)
}

func (r *InMemory) All() []Presence {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Presence, 0, len(r.presence))
	for _, p := range r.presence {
		out = append(out, p)
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Fresh reports whether a presence's last fix is within staleAfterMs of now.
func (p Presence) Fresh(nowMs, staleAfterMs int64) bool {
	return p.Last != nil && nowMs-p.Last.AtMs <= staleAfterMs
}

// Eligible reports whether a presence is available and fresh.
func (p Presence) Eligible(nowMs, staleAfterMs int64) bool {
	return p.Available && p.Fresh(nowMs, staleAfterMs)
}
