package session

import (
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/bus"
	"github.com/example/ride-dispatch/internal/drivers"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/rooms"
)

type sentEvent struct {
	connID string
	event  string
}

type recordingEmitter struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (e *recordingEmitter) Send(connID, event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, sentEvent{connID, event})
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

func newTestRouter(t *testing.T) (*Router, *recordingEmitter, *rooms.Hub, *rides.Registry) {
	t.Helper()
	emitter := &recordingEmitter{}
	roomHub := rooms.NewHub()
	b := bus.NewBroadcaster(emitter, roomHub)
	rideReg := rides.NewRegistry(nil, nil)
	router := &Router{
		Rides:   rideReg,
		Rooms:   roomHub,
		Bus:     b,
		Drivers: drivers.NewInMemory(),
	}
	return router, emitter, roomHub, rideReg
}

func acceptedRide(rideID, passengerConnID, driverConnID string) *rides.Ride {
	r := rides.New(rideID, passengerConnID, models.NovaCorridaPayload{RideID: rideID, Fare: 10})
	r.WithLock(func(r *rides.Ride) {
		r.Status = models.RideAccepted
		r.WinnerConnID = driverConnID
	})
	return r
}

func TestDriverLocationRebroadcastsToRoom(t *testing.T) {
	router, emitter, roomHub, rideReg := newTestRouter(t)
	r := acceptedRide("r1", "passenger1", "d1")
	rideReg.Create(r)
	room := rooms.RideRoom("r1")
	roomHub.Join(room, "passenger1")
	roomHub.Join(room, "d1")

	router.DriverLocation("d1", models.DriverLocalizacaoPayload{RideID: "r1", Lat: -23.5, Lng: -46.6})

	msgs := emitter.events("driver_localizacao")
	if len(msgs) != 2 {
		t.Fatalf("expected broadcast to both room members, got %d", len(msgs))
	}
}

func TestChatNotFannedOutOutsideRoom(t *testing.T) {
	router, emitter, roomHub, _ := newTestRouter(t)
	room := rooms.RideRoom("r2")
	roomHub.Join(room, "passenger2")

	router.Chat(models.EnviarMensagemPayload{RideID: "r2", From: "passenger2", Message: "hi"})

	msgs := emitter.events("nova_mensagem")
	if len(msgs) != 1 || msgs[0].connID != "passenger2" {
		t.Fatalf("expected message only to room member, got %v", msgs)
	}
}

func TestStatusCompletedEvictsRoomAfterLinger(t *testing.T) {
	router, emitter, roomHub, rideReg := newTestRouter(t)
	r := acceptedRide("r4", "passenger4", "d4")
	rideReg.Create(r)
	room := rooms.RideRoom("r4")
	roomHub.Join(room, "passenger4")
	roomHub.Join(room, "d4")

	router.Status(models.CorridaStatusPayload{RideID: "r4", Status: models.StatusCompleted})

	if len(emitter.events("corrida_status_atualizada")) != 2 {
		t.Fatalf("expected status broadcast to both room members")
	}
	if _, ok := rideReg.Get("r4"); !ok {
		t.Fatalf("ride should still exist during linger")
	}

	time.Sleep(LingerDuration + 50*time.Millisecond)

	if _, ok := rideReg.Get("r4"); ok {
		t.Fatalf("ride should be deleted after linger")
	}
	if members := roomHub.Members(room); len(members) != 0 {
		t.Fatalf("expected room evicted, got %v", members)
	}
}

func TestStatusNonTerminalDoesNotDeleteRide(t *testing.T) {
	router, _, roomHub, rideReg := newTestRouter(t)
	r := acceptedRide("r5", "passenger5", "d5")
	rideReg.Create(r)
	roomHub.Join(rooms.RideRoom("r5"), "passenger5")

	router.Status(models.CorridaStatusPayload{RideID: "r5", Status: models.StatusOngoing})

	if _, ok := rideReg.Get("r5"); !ok {
		t.Fatalf("non-terminal status must not delete the ride")
	}
}
