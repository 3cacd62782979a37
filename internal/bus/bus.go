// Package bus defines the narrow interfaces the auction scheduler,
// acceptance arbiter, and session router use to emit events without
// depending directly on the websocket transport or the room membership
// store. Keeping these as interfaces lets unit tests swap in fakes for
// the transport and room collaborators instead of standing up a real
// socket.
package bus

// Emitter sends one named, JSON-able event to a single connection.
type Emitter interface {
	Send(connID, event string, payload any) error
}

// RoomHub tracks which connections belong to which ride room.
type RoomHub interface {
	Join(room, connID string)
	Leave(room, connID string)
	Members(room string) []string
}

// Broadcaster combines an Emitter with a RoomHub so callers can fan an
// event out to every current member of a room in one call.
type Broadcaster struct {
	Emitter Emitter
	Rooms   RoomHub
}

func NewBroadcaster(emitter Emitter, rooms RoomHub) *Broadcaster {
	return &Broadcaster{Emitter: emitter, Rooms: rooms}
}

// ToRoom emits event/payload to every current member of room. Errors from
// individual sends are swallowed here by design (§7: a transient transport
// error on an outbound emit is logged by the emitter and considered lost,
// never retried) — callers that want to log should wrap their Emitter.
func (b *Broadcaster) ToRoom(room, event string, payload any) {
	for _, connID := range b.Rooms.Members(room) {
		_ = b.Emitter.Send(connID, event, payload)
	}
}

// ToConn emits event/payload to exactly one connection.
func (b *Broadcaster) ToConn(connID, event string, payload any) {
	_ = b.Emitter.Send(connID, event, payload)
}
