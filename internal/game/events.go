package game

import "sync"

// EventKind identifies a state change published by a session.
type EventKind string

const (
	EventBoardChanged      EventKind = "board_changed"
	EventTurnChanged       EventKind = "turn_changed"
	EventPlayerChanged     EventKind = "player_changed"
	EventGameTypeChanged   EventKind = "game_type_changed"
	EventDifficultyChanged EventKind = "difficulty_changed"
	EventCompleted         EventKind = "completed"
	EventPlayersChanged    EventKind = "players_changed"
	EventStarted           EventKind = "started"
	EventReset             EventKind = "reset"
)

// Event is a typed notification. Payload holds the struct matching Kind.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"sessionId"`
	Payload   any       `json:"payload,omitempty"`
}

type BoardChanged struct {
	Row   int   `json:"row"`
	Col   int   `json:"col"`
	Piece Piece `json:"piece"`
}

type TurnChanged struct {
	Turn int `json:"turn"`
}

type PlayerChanged struct {
	Index  int    `json:"index"`
	Player Player `json:"player"`
}

type GameTypeChanged struct {
	Variant Variant `json:"variant"`
}

type DifficultyChanged struct {
	Difficulty Difficulty `json:"difficulty"`
}

// Completed reports the end of a game. Winner is nil on a draw.
type Completed struct {
	State  CompletionState `json:"state"`
	Winner *Player         `json:"winner,omitempty"`
}

type PlayersChanged struct {
	Players []Player `json:"players"`
}

type Started struct {
	First Player `json:"first"`
}

type Reset struct{}

// Listener receives events in publish order.
type Listener func(Event)

type subscription struct {
	handle int
	kind   EventKind // empty matches every kind
	fn     Listener
}

// Bus is a synchronous publish/subscribe hub. Listeners are invoked outside
// the bus lock so they may subscribe or unsubscribe while handling an event.
type Bus struct {
	mu         sync.RWMutex
	subs       []subscription
	nextHandle int
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for every event and returns its handle.
func (b *Bus) Subscribe(fn Listener) int {
	return b.SubscribeKind("", fn)
}

// SubscribeKind registers fn for a single event kind.
func (b *Bus) SubscribeKind(kind EventKind, fn Listener) int {
	if fn == nil {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.nextHandle
	b.nextHandle++
	b.subs = append(b.subs, subscription{handle: h, kind: kind, fn: fn})
	return h
}

// Unsubscribe removes the listener registered under handle.
func (b *Bus) Unsubscribe(handle int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.subs {
		if b.subs[i].handle == handle {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers e to every matching listener, in subscription order.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	fns := make([]Listener, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.kind == "" || sub.kind == e.Kind {
			fns = append(fns, sub.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Len returns the number of registered listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
