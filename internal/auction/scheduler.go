package auction

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/bus"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/rides"
)

// Config holds the tunables that govern round cadence.
type Config struct {
	BatchSize     int
	OfferTTL      time.Duration
	MaxRounds     int
	RetryInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:     3,
		OfferTTL:      12 * time.Second,
		MaxRounds:     3,
		RetryInterval: 2 * time.Second,
	}
}

// Scheduler drives a ride through up to Config.MaxRounds offer rounds
// until it is accepted or exhausted.
type Scheduler struct {
	Config
	Selector *Selector
	Rides    *rides.Registry
	Bus      *bus.Broadcaster
	Logger   *slog.Logger
}

// Step performs one dispatch decision for rideID: select a batch, emit
// individualized offers, and arm the next timer. It is re-entered by the
// auction timer on expiry and by the retry timer on an empty round.
func (s *Scheduler) Step(rideID string) {
	r, ok := s.Rides.Get(rideID)
	if !ok {
		return
	}
	r.WithLock(func(r *rides.Ride) {
		s.stepLocked(r)
	})
}

func (s *Scheduler) stepLocked(r *rides.Ride) {
	if r.Status != models.RideSearching {
		return
	}
	if r.Round >= s.MaxRounds {
		s.handleEmptyRound(r)
		return
	}

	now := time.Now()
	nowMs := now.UnixMilli()
	shortlist := s.Selector.Shortlist(r.Pickup, r.OfferedConns, nowMs)

	batch := make([]Candidate, 0, s.BatchSize)
	for _, c := range shortlist {
		if len(batch) >= s.BatchSize {
			break
		}
		batch = append(batch, c)
	}

	if len(batch) == 0 {
		s.handleEmptyRound(r)
		return
	}

	expiresAt := now.Add(s.OfferTTL)
	for _, c := range batch {
		offerID := uuid.NewString()
		r.Offered[offerID] = &models.RideOffer{ID: offerID, ConnID: c.ConnID, IssuedAt: now, State: models.OfferPending}
		r.OfferedConns[c.ConnID] = struct{}{}

		s.Bus.ToConn(c.ConnID, "corrida_disponivel", models.CorridaDisponivelPayload{
			OfferID:             offerID,
			RideID:              r.ID,
			PassengerName:       r.PassengerName,
			PickupAddress:       r.PickupAddress,
			PickupLocation:      models.LatLng{Latitude: r.Pickup.Lat, Longitude: r.Pickup.Lng},
			DestinationAddress:  r.DestinationAddress,
			DestinationLocation: models.LatLng{Latitude: r.Destination.Lat, Longitude: r.Destination.Lng},
			RoutePolyline:       r.RoutePolyline,
			Fare:                r.Fare,
			ExpiresAt:           expiresAt.UnixMilli(),
		})
		observability.OffersTotal.Inc()
	}

	rideID := r.ID
	r.ArmAuctionTimer(s.OfferTTL, func() { s.onAuctionTimerFire(rideID) })
}

func (s *Scheduler) handleEmptyRound(r *rides.Ride) {
	if r.Round >= s.MaxRounds-1 {
		r.Status = models.RideFailed
		r.CancelAuctionTimer()
		s.Bus.ToConn(r.PassengerConnID, "sem_motoristas", models.SemMotoristasPayload{RideID: r.ID})
		s.Rides.RecordTransition(r.AuditSnapshot())
		observability.ExhaustionsTotal.Inc()
		if s.Logger != nil {
			s.Logger.Info("auction exhausted", "rideId", r.ID, "round", r.Round)
		}
		return
	}

	r.Round++
	observability.RoundsTotal.Inc()
	rideID := r.ID
	r.ArmAuctionTimer(s.RetryInterval, func() { s.onRetryTimerFire(rideID) })
}

func (s *Scheduler) onAuctionTimerFire(rideID string) {
	r, ok := s.Rides.Get(rideID)
	if !ok {
		return
	}
	r.WithLock(func(r *rides.Ride) {
		if r.Status != models.RideSearching {
			return
		}
		r.Round++
		observability.RoundsTotal.Inc()
		s.stepLocked(r)
	})
}

func (s *Scheduler) onRetryTimerFire(rideID string) {
	s.Step(rideID)
}
