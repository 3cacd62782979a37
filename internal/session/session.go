// Package session relays per-ride messages between a ride's room members
// once a driver has been awarded: driver-location telemetry, chat, and
// status transitions, plus the terminal-status linger/eviction that
// destroys the ride record a few seconds after it completes or cancels.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/bus"
	"github.com/example/ride-dispatch/internal/drivers"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/rooms"
)

// LingerDuration is how long a terminal ride's room stays up before
// eviction and deletion.
const LingerDuration = 3 * time.Second

// Router relays telemetry/chat/status among a ride's room members and
// runs the terminal-status linger/eviction.
type Router struct {
	Rides    *rides.Registry
	Rooms    *rooms.Hub
	Bus      *bus.Broadcaster
	Drivers  drivers.Registry
	Payments payments.FareHolder
	Logger   *slog.Logger
}

// DriverLocation re-broadcasts a driver-location telemetry frame to the
// ride room and updates the driver's presence record.
func (s *Router) DriverLocation(connID string, p models.DriverLocalizacaoPayload) {
	if p.RideID == "" {
		return
	}
	if _, ok := s.Rides.Get(p.RideID); !ok {
		return
	}
	s.Drivers.UpdateLocation(connID, p.Lat, p.Lng, time.Now().UnixMilli())

	room := rooms.RideRoom(p.RideID)
	s.Bus.ToRoom(room, "driver_localizacao", models.DriverLocalizacaoBroadcastPayload{
		RideID:    p.RideID,
		Lat:       p.Lat,
		Lng:       p.Lng,
		Heading:   p.Heading,
		Speed:     p.Speed,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Chat fans a chat message out to the ride room.
func (s *Router) Chat(p models.EnviarMensagemPayload) {
	if p.RideID == "" {
		return
	}
	room := rooms.RideRoom(p.RideID)
	s.Bus.ToRoom(room, "nova_mensagem", models.NovaMensagemPayload{
		From:      p.From,
		Message:   p.Message,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Status re-broadcasts a ride status transition and, on a terminal status,
// resolves the fare hold and arms the linger/eviction timer.
func (s *Router) Status(p models.CorridaStatusPayload) {
	r, ok := s.Rides.Get(p.RideID)
	if !ok {
		return
	}

	room := rooms.RideRoom(p.RideID)
	s.Bus.ToRoom(room, "corrida_status_atualizada", models.CorridaStatusAtualizadaPayload{
		RideID:    p.RideID,
		By:        p.By,
		Status:    p.Status,
		Timestamp: time.Now().UnixMilli(),
	})

	switch p.Status {
	case models.StatusCompleted:
		s.terminal(r, models.RideCompleted)
		s.resolveFareHold(r, true)
	case models.StatusCanceled:
		s.terminal(r, models.RideCanceled)
		s.resolveFareHold(r, false)
	}
}

// terminal sets the ride's terminal status, records the transition, and
// arms the linger timer that evicts the room and deletes the ride.
func (s *Router) terminal(r *rides.Ride, status models.RideStatus) {
	var snap rides.Snapshot
	r.WithLock(func(r *rides.Ride) {
		r.Status = status
		r.CancelAuctionTimer()
		r.ArmLingerTimer(LingerDuration, func() { s.evict(r.ID) })
		snap = r.AuditSnapshot()
	})
	s.Rides.RecordTransition(snap)
}

// evict tears a terminated ride's room down and removes its record.
func (s *Router) evict(rideID string) {
	room := rooms.RideRoom(rideID)
	for _, connID := range s.Rooms.Members(room) {
		s.Rooms.Leave(room, connID)
	}
	s.Rooms.Delete(room)
	s.Rides.Delete(rideID)
}

// resolveFareHold captures or cancels the fare hold placed at acceptance.
// Best-effort: failures are logged but never unwind the status transition
// or block the broadcast that already happened above.
func (s *Router) resolveFareHold(r *rides.Ride, capture bool) {
	if s.Payments == nil {
		return
	}
	var holdID string
	r.WithLock(func(r *rides.Ride) { holdID = r.FareHoldID })
	if holdID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var err error
		if capture {
			err = s.Payments.Capture(ctx, holdID)
		} else {
			err = s.Payments.Cancel(ctx, holdID)
		}
		if err != nil && s.Logger != nil {
			s.Logger.Warn("fare hold resolution failed", "rideId", r.ID, "holdId", holdID, "capture", capture, "error", err)
		}
	}()
}
