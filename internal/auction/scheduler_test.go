package auction

import (
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/bus"
	"github.com/example/ride-dispatch/internal/drivers"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/rides"
)

type sentEvent struct {
	connID  string
	event   string
	payload any
}

type recordingEmitter struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (e *recordingEmitter) Send(connID, event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, sentEvent{connID, event, payload})
	return nil
}

func (e *recordingEmitter) events(event string) []sentEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []sentEvent
	for _, s := range e.sent {
		if s.event == event {
			out = append(out, s)
		}
	}
	return out
}

type fakeRoomHub struct{}

func (fakeRoomHub) Join(string, string)         {}
func (fakeRoomHub) Leave(string, string)         {}
func (fakeRoomHub) Members(room string) []string { return nil }

func newTestScheduler(t *testing.T, driverReg drivers.Registry) (*Scheduler, *recordingEmitter, *rides.Registry) {
	t.Helper()
	emitter := &recordingEmitter{}
	b := bus.NewBroadcaster(emitter, fakeRoomHub{})
	registry := rides.NewRegistry(nil, nil)
	sched := &Scheduler{
		Config:   Config{BatchSize: 1, OfferTTL: 30 * time.Millisecond, MaxRounds: 3, RetryInterval: 20 * time.Millisecond},
		Selector: &Selector{Drivers: driverReg, StaleAfterMs: 30000},
		Rides:    registry,
		Bus:      b,
	}
	return sched, emitter, registry
}

func newSearchingRide(rideID, passengerConnID string) *rides.Ride {
	return rides.New(rideID, passengerConnID, models.NovaCorridaPayload{
		RideID:              rideID,
		PassengerName:       "Ana",
		PickupAddress:       "Rua A",
		PickupLocation:      models.LatLng{Latitude: -23.550, Longitude: -46.633},
		DestinationAddress:  "Rua B",
		DestinationLocation: models.LatLng{Latitude: -23.500, Longitude: -46.600},
		Fare:                25,
	})
}

func TestStepOffersNearestFirst(t *testing.T) {
	dreg := drivers.NewInMemory()
	dreg.Register("d1", nil)
	dreg.SetAvailable("d1", true)
	dreg.UpdateLocation("d1", -23.550, -46.634, time.Now().UnixMilli())
	dreg.Register("d2", nil)
	dreg.SetAvailable("d2", true)
	dreg.UpdateLocation("d2", -23.560, -46.640, time.Now().UnixMilli())

	sched, emitter, registry := newTestScheduler(t, dreg)
	sched.BatchSize = 2
	r := newSearchingRide("r1", "passenger1")
	registry.Create(r)

	sched.Step("r1")

	offers := emitter.events("corrida_disponivel")
	if len(offers) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(offers))
	}
	if offers[0].connID != "d1" {
		t.Fatalf("expected d1 offered first (nearer), got %s", offers[0].connID)
	}
}

func TestStepNeverOffersSameConnTwice(t *testing.T) {
	dreg := drivers.NewInMemory()
	dreg.Register("d1", nil)
	dreg.SetAvailable("d1", true)
	dreg.UpdateLocation("d1", -23.550, -46.634, time.Now().UnixMilli())

	sched, emitter, registry := newTestScheduler(t, dreg)
	r := newSearchingRide("r1", "passenger1")
	registry.Create(r)

	sched.Step("r1")
	r.WithLock(func(r *rides.Ride) { sched.stepLocked(r) }) // re-entrant step should not re-offer d1

	offers := emitter.events("corrida_disponivel")
	if len(offers) != 1 {
		t.Fatalf("expected exactly 1 offer across both steps, got %d", len(offers))
	}
}

func TestExhaustionEmitsSemMotoristas(t *testing.T) {
	dreg := drivers.NewInMemory() // no drivers at all
	sched, emitter, registry := newTestScheduler(t, dreg)
	sched.MaxRounds = 1
	r := newSearchingRide("r3", "passenger3")
	registry.Create(r)

	sched.Step("r3")

	msgs := emitter.events("sem_motoristas")
	if len(msgs) != 1 {
		t.Fatalf("expected sem_motoristas, got %d events", len(msgs))
	}
	if r.Status != models.RideFailed {
		t.Fatalf("expected ride FAILED, got %v", r.Status)
	}
}

func TestAuctionTimerStopsAfterAcceptance(t *testing.T) {
	dreg := drivers.NewInMemory()
	dreg.Register("d1", nil)
	dreg.SetAvailable("d1", true)
	dreg.UpdateLocation("d1", -23.550, -46.634, time.Now().UnixMilli())

	sched, emitter, registry := newTestScheduler(t, dreg)
	r := newSearchingRide("r2", "passenger2")
	registry.Create(r)
	sched.Step("r2")

	r.WithLock(func(r *rides.Ride) {
		r.Status = models.RideAccepted
		r.CancelAuctionTimer()
	})

	time.Sleep(80 * time.Millisecond) // longer than OfferTTL; timer must not fire further offers

	offers := emitter.events("corrida_disponivel")
	if len(offers) != 1 {
		t.Fatalf("expected exactly 1 offer after acceptance halted the auction, got %d", len(offers))
	}
}
