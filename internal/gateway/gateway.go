// Package gateway is the connection gateway: it implements
// transport.Handler, identifies each connection as a driver or passenger,
// and dispatches named events to the auction scheduler, acceptance
// arbiter, and session router. Every dispatch is wrapped in its own
// panic recovery so one malformed or buggy handler body never takes the
// process or the connection down.
package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/arbiter"
	"github.com/example/ride-dispatch/internal/auction"
	"github.com/example/ride-dispatch/internal/bus"
	"github.com/example/ride-dispatch/internal/drivers"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/rooms"
	"github.com/example/ride-dispatch/internal/session"
	"github.com/example/ride-dispatch/internal/transport"
)

// identity tracks what a connection has told us about itself.
type identity struct {
	tipo string // "motorista" or "passageiro"
}

// Gateway wires every inbound event to its owning component.
type Gateway struct {
	Drivers   drivers.Registry
	Rides     *rides.Registry
	Rooms     *rooms.Hub
	Bus       *bus.Broadcaster
	Scheduler *auction.Scheduler
	Arbiter   *arbiter.Arbiter
	Session   *session.Router
	Logger    *slog.Logger

	mu    sync.Mutex
	conns map[string]identity
}

func New(logger *slog.Logger) *Gateway {
	return &Gateway{Logger: logger, conns: make(map[string]identity)}
}

// OnConnect records the connection with an empty identity; it has no role
// until it sends identificar.
func (g *Gateway) OnConnect(connID string) {
	g.mu.Lock()
	g.conns[connID] = identity{}
	g.mu.Unlock()
}

// OnMessage decodes the envelope payload for the named event and
// dispatches it, recovering from any panic in the handler body.
func (g *Gateway) OnMessage(connID string, env transport.Envelope) {
	defer g.recover(connID, env.Type)

	switch env.Type {
	case "identificar":
		var p models.IdentificarPayload
		if !g.decode(connID, env, &p) {
			return
		}
		g.identificar(connID, p)
	case "driver_status":
		var p models.DriverStatusPayload
		if !g.decode(connID, env, &p) {
			return
		}
		prev, known := g.Drivers.Get(connID)
		g.Drivers.SetAvailable(connID, p.Available)
		if known && prev.Available != p.Available {
			if p.Available {
				observability.DriversOnline.Inc()
			} else {
				observability.DriversOnline.Dec()
			}
		}
	case "driver_localizacao":
		var p models.DriverLocalizacaoPayload
		if !g.decode(connID, env, &p) {
			return
		}
		if p.RideID == "" {
			g.Drivers.UpdateLocation(connID, p.Lat, p.Lng, nowMs())
			return
		}
		g.Session.DriverLocation(connID, p)
	case "nova_corrida":
		var p models.NovaCorridaPayload
		if !g.decode(connID, env, &p) {
			return
		}
		g.novaCorrida(connID, p)
	case "corrida_aceita":
		var p models.CorridaAceitaPayload
		if !g.decode(connID, env, &p) {
			return
		}
		g.Arbiter.Accept(connID, p)
	case "enviar_mensagem":
		var p models.EnviarMensagemPayload
		if !g.decode(connID, env, &p) {
			return
		}
		g.Session.Chat(p)
	case "corrida_status":
		var p models.CorridaStatusPayload
		if !g.decode(connID, env, &p) {
			return
		}
		g.Session.Status(p)
	default:
		if g.Logger != nil {
			g.Logger.Warn("dropping unknown event", "connId", connID, "type", env.Type)
		}
	}
}

// OnDisconnect marks a driver unavailable, removes its presence entry
// (per the decision in DESIGN.md to bound memory), and drops room
// membership. Rides the driver was winning are left untouched — a
// disconnect alone never cancels a ride.
func (g *Gateway) OnDisconnect(connID string) {
	g.mu.Lock()
	delete(g.conns, connID)
	g.mu.Unlock()

	if p, ok := g.Drivers.Get(connID); ok && p.Available {
		observability.DriversOnline.Dec()
	}
	g.Drivers.SetAvailable(connID, false)
	g.Drivers.Remove(connID)
	g.Rooms.LeaveAll(connID)
	if g.Logger != nil {
		g.Logger.Info("connection closed", "connId", connID)
	}
}

// passageirosGroup is the passive room every identified passenger joins.
// Nothing broadcasts to it today — per-ride fan-out uses rooms.RideRoom
// instead — but it gives a future passenger-wide announcement (e.g. a
// surge notice) a join point that already exists at identification time.
const passageirosGroup = "passageiros"

func (g *Gateway) identificar(connID string, p models.IdentificarPayload) {
	switch p.Tipo {
	case "motorista":
		g.Drivers.Register(connID, p.DriverID)
		g.setTipo(connID, "motorista")
		g.Bus.ToConn(connID, "status", models.StatusAckPayload{OK: true, Tipo: "motorista"})
	case "passageiro":
		g.setTipo(connID, "passageiro")
		g.Rooms.Join(passageirosGroup, connID)
		g.Bus.ToConn(connID, "status", models.StatusAckPayload{OK: true, Tipo: "passageiro"})
	default:
		g.Bus.ToConn(connID, "status", models.StatusAckPayload{OK: false, Error: "tipo_invalido"})
	}
}

func (g *Gateway) setTipo(connID, tipo string) {
	g.mu.Lock()
	g.conns[connID] = identity{tipo: tipo}
	g.mu.Unlock()
}

func (g *Gateway) novaCorrida(passengerConnID string, p models.NovaCorridaPayload) {
	r := rides.New(p.RideID, passengerConnID, p)
	g.Rides.Create(r)
	g.Rooms.Join(rooms.RideRoom(p.RideID), passengerConnID)
	g.Scheduler.Step(p.RideID)
}

// decode unmarshals env.Payload into out; a malformed payload is
// dropped silently with a log line, no reply.
func (g *Gateway) decode(connID string, env transport.Envelope, out any) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		if g.Logger != nil {
			g.Logger.Warn("dropping malformed payload", "connId", connID, "type", env.Type, "error", err)
		}
		return false
	}
	return true
}

func (g *Gateway) recover(connID, eventType string) {
	if rec := recover(); rec != nil && g.Logger != nil {
		g.Logger.Error("recovered from panic handling message", "connId", connID, "type", eventType, "panic", rec)
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }
