// Package arbiter resolves concurrent acceptance attempts for a ride,
// producing exactly one winner and notifying losers.
package arbiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/bus"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/rooms"
)

// Arbiter awards rides to the first valid acceptance it sees.
type Arbiter struct {
	Rides    *rides.Registry
	Bus      *bus.Broadcaster
	Payments payments.FareHolder
	Logger   *slog.Logger
}

// Accept implements the acceptance arbiter's logic. connID is the driver
// connection that sent the corrida_aceita frame.
func (a *Arbiter) Accept(connID string, p models.CorridaAceitaPayload) {
	r, ok := a.Rides.Get(p.RideID)
	if !ok {
		a.Bus.ToConn(connID, "offer_lost", models.OfferLostPayload{RideID: p.RideID, Reason: models.ReasonNotSearching})
		return
	}

	var awarded bool
	var fare float64
	var snap rides.Snapshot
	r.WithLock(func(r *rides.Ride) {
		if r.Status != models.RideSearching {
			a.Bus.ToConn(connID, "offer_lost", models.OfferLostPayload{RideID: p.RideID, Reason: models.ReasonNotSearching})
			return
		}
		off, exists := r.Offered[p.OfferID]
		if !exists || off.ConnID != connID || off.State != models.OfferPending {
			a.Bus.ToConn(connID, "offer_lost", models.OfferLostPayload{RideID: p.RideID, Reason: models.ReasonOfferInvalid})
			return
		}

		r.Status = models.RideAccepted
		r.WinnerConnID = connID
		off.State = models.OfferWon
		r.CancelAuctionTimer()

		for _, pending := range r.PendingOffersExcept(p.OfferID) {
			pending.State = models.OfferLost
			a.Bus.ToConn(pending.ConnID, "offer_lost", models.OfferLostPayload{RideID: p.RideID, Reason: models.ReasonAlreadyTaken})
		}

		room := rooms.RideRoom(r.ID)
		a.Bus.Rooms.Join(room, connID)

		now := time.Now()
		a.Bus.ToRoom(room, "corrida_aceita", models.CorridaAceitaBroadcastPayload{
			RideID:           r.ID,
			DriverID:         p.DriverID,
			DriverName:       p.DriverName,
			DriverPhone:      p.DriverPhone,
			VehicleModel:     p.VehicleModel,
			VehiclePlate:     p.VehiclePlate,
			Status:           "accepted",
			Message:          "Motorista encontrado",
			Timestamp:        now.UnixMilli(),
			ApproachPolyline: p.ApproachPolyline,
		})
		a.Bus.ToConn(connID, "offer_won", models.OfferWonPayload{RideID: r.ID})

		awarded = true
		fare = r.Fare
		snap = r.AuditSnapshot()
	})

	if !awarded {
		return
	}
	observability.AcceptancesTotal.Inc()
	a.Rides.RecordTransition(snap)
	a.placeFareHold(r, fare)
}

// placeFareHold is best-effort: a failure is logged but never unwinds the
// award — fare capture is a back-office concern.
func (a *Arbiter) placeFareHold(r *rides.Ride, fare float64) {
	if a.Payments == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		holdID, err := a.Payments.Hold(ctx, int64(fare*100), "usd", "")
		if err != nil {
			if a.Logger != nil {
				a.Logger.Warn("fare hold failed", "rideId", r.ID, "error", err)
			}
			return
		}
		r.WithLock(func(r *rides.Ride) { r.FareHoldID = holdID })
	}()
}
