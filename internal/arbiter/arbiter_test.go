package arbiter

import (
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/bus"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/rooms"
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

func newTestArbiter(t *testing.T) (*Arbiter, *recordingEmitter, *rooms.Hub) {
	t.Helper()
	emitter := &recordingEmitter{}
	roomHub := rooms.NewHub()
	b := bus.NewBroadcaster(emitter, roomHub)
	registry := rides.NewRegistry(nil, nil)
	return &Arbiter{Rides: registry, Bus: b}, emitter, roomHub
}

func searchingRideWithOffers(rideID, passengerConnID string, offers ...string) *rides.Ride {
	r := rides.New(rideID, passengerConnID, models.NovaCorridaPayload{
		RideID: rideID,
		Fare:   25,
	})
	r.WithLock(func(r *rides.Ride) {
		for i, connID := range offers {
			offerID := rideID + "-offer-" + string(rune('a'+i))
			r.Offered[offerID] = &models.RideOffer{ID: offerID, ConnID: connID, IssuedAt: time.Now(), State: models.OfferPending}
			r.OfferedConns[connID] = struct{}{}
		}
	})
	return r
}

func offerIDFor(r *rides.Ride, connID string) string {
	var found string
	r.WithLock(func(r *rides.Ride) {
		for id, off := range r.Offered {
			if off.ConnID == connID {
				found = id
				return
			}
		}
	})
	return found
}

func TestAcceptAwardsExactlyOneWinnerAmongConcurrentAcceptances(t *testing.T) {
	a, emitter, _ := newTestArbiter(t)
	r := searchingRideWithOffers("r1", "passenger1", "d1", "d2")
	a.Rides.Create(r)

	off1 := offerIDFor(r, "d1")
	off2 := offerIDFor(r, "d2")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Accept("d1", models.CorridaAceitaPayload{RideID: "r1", OfferID: off1, DriverID: "D1"})
	}()
	go func() {
		defer wg.Done()
		a.Accept("d2", models.CorridaAceitaPayload{RideID: "r1", OfferID: off2, DriverID: "D2"})
	}()
	wg.Wait()

	won := emitter.events("offer_won")
	if len(won) != 1 {
		t.Fatalf("expected exactly 1 offer_won across concurrent acceptances, got %d", len(won))
	}

	// The loser always sees offer_lost{already_taken}, sent from inside the
	// winner's own critical section while its offer is still PENDING; if the
	// loser's own Accept call only reaches the lock afterward, it additionally
	// sees offer_lost{not_searching} for itself. Either way there is exactly
	// one already_taken notification, naming the actual loser.
	lost := emitter.events("offer_lost")
	var alreadyTaken []sentEvent
	for _, ev := range lost {
		if ev.payload.(models.OfferLostPayload).Reason == models.ReasonAlreadyTaken {
			alreadyTaken = append(alreadyTaken, ev)
		}
	}
	if len(alreadyTaken) != 1 {
		t.Fatalf("expected exactly 1 already_taken notification, got %d (all lost events: %v)", len(alreadyTaken), lost)
	}
	if alreadyTaken[0].connID == won[0].connID {
		t.Fatalf("winner and already_taken target must not be the same connection")
	}

	if r.Status != models.RideAccepted {
		t.Fatalf("expected ride ACCEPTED, got %v", r.Status)
	}
	if r.WinnerConnID != won[0].connID {
		t.Fatalf("expected WinnerConnID to match the winner that received offer_won")
	}
}

func TestAcceptRejectsUnknownRide(t *testing.T) {
	a, emitter, _ := newTestArbiter(t)
	a.Accept("d1", models.CorridaAceitaPayload{RideID: "ghost", OfferID: "x"})

	lost := emitter.events("offer_lost")
	if len(lost) != 1 || lost[0].payload.(models.OfferLostPayload).Reason != models.ReasonNotSearching {
		t.Fatalf("expected offer_lost{not_searching} for an unknown ride, got %v", lost)
	}
}

func TestAcceptRejectsWhenRideNoLongerSearching(t *testing.T) {
	a, emitter, _ := newTestArbiter(t)
	r := searchingRideWithOffers("r2", "passenger2", "d1")
	a.Rides.Create(r)
	off1 := offerIDFor(r, "d1")
	r.WithLock(func(r *rides.Ride) { r.Status = models.RideFailed })

	a.Accept("d1", models.CorridaAceitaPayload{RideID: "r2", OfferID: off1})

	lost := emitter.events("offer_lost")
	if len(lost) != 1 || lost[0].payload.(models.OfferLostPayload).Reason != models.ReasonNotSearching {
		t.Fatalf("expected offer_lost{not_searching} once the ride left SEARCHING, got %v", lost)
	}
}

func TestAcceptRejectsWrongConnID(t *testing.T) {
	a, emitter, _ := newTestArbiter(t)
	r := searchingRideWithOffers("r3", "passenger3", "d1")
	a.Rides.Create(r)
	off1 := offerIDFor(r, "d1")

	a.Accept("d2", models.CorridaAceitaPayload{RideID: "r3", OfferID: off1})

	lost := emitter.events("offer_lost")
	if len(lost) != 1 || lost[0].payload.(models.OfferLostPayload).Reason != models.ReasonOfferInvalid {
		t.Fatalf("expected offer_lost{offer_invalid} when the acceptor doesn't own the offer, got %v", lost)
	}
	if r.Status != models.RideSearching {
		t.Fatalf("expected the ride to remain SEARCHING after a mismatched acceptance")
	}
}

func TestAcceptRejectsAlreadyResolvedOffer(t *testing.T) {
	a, emitter, _ := newTestArbiter(t)
	r := searchingRideWithOffers("r4", "passenger4", "d1")
	a.Rides.Create(r)
	off1 := offerIDFor(r, "d1")
	r.WithLock(func(r *rides.Ride) { r.Offered[off1].State = models.OfferExpired })

	a.Accept("d1", models.CorridaAceitaPayload{RideID: "r4", OfferID: off1})

	lost := emitter.events("offer_lost")
	if len(lost) != 1 || lost[0].payload.(models.OfferLostPayload).Reason != models.ReasonOfferInvalid {
		t.Fatalf("expected offer_lost{offer_invalid} for a non-pending offer, got %v", lost)
	}
}

func TestAcceptJoinsWinnerToRideRoomAndBroadcasts(t *testing.T) {
	a, emitter, roomHub := newTestArbiter(t)
	r := searchingRideWithOffers("r5", "passenger5", "d1")
	a.Rides.Create(r)
	off1 := offerIDFor(r, "d1")

	a.Accept("d1", models.CorridaAceitaPayload{RideID: "r5", OfferID: off1, DriverID: "D1"})

	if !roomHub.Has(rooms.RideRoom("r5"), "d1") {
		t.Fatal("expected the winning driver to join the ride room")
	}
	broadcast := emitter.events("corrida_aceita")
	if len(broadcast) != 1 {
		t.Fatalf("expected exactly 1 corrida_aceita broadcast, got %d", len(broadcast))
	}
}
