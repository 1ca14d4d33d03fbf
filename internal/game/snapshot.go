package game

import "fmt"

// Snapshot is the serialisable state of a session. Version increases on every
// mutation so mirrors can drop stale copies that arrive out of order.
type Snapshot struct {
	ID         string          `json:"id"`
	Variant    Variant         `json:"variant"`
	Difficulty Difficulty      `json:"difficulty"`
	Board      Board           `json:"board"`
	Players    []Player        `json:"players"`
	Turn       int             `json:"turn"`
	Current    int             `json:"current"`
	State      CompletionState `json:"state"`
	Winner     int             `json:"winner"`
	Version    uint64          `json:"version"`
}

// Open reports whether the session still has a free seat.
func (s Snapshot) Open() bool { return len(s.Players) < RequiredPlayers }

// CurrentPlayer returns the player whose turn it is, if seated.
func (s Snapshot) CurrentPlayer() (Player, bool) {
	if s.Current < 0 || s.Current >= len(s.Players) {
		return Player{}, false
	}
	return s.Players[s.Current], true
}

// WinnerPlayer returns the winner of a finished game, if any.
func (s Snapshot) WinnerPlayer() (Player, bool) {
	if s.State != Win || s.Winner < 0 || s.Winner >= len(s.Players) {
		return Player{}, false
	}
	return s.Players[s.Winner], true
}

// HasPlayer reports whether name is seated.
func (s Snapshot) HasPlayer(name string) bool {
	for _, p := range s.Players {
		if p.Name == name {
			return true
		}
	}
	return false
}

func (s Snapshot) validate() error {
	switch {
	case !s.Variant.Valid():
		return ErrInvalidVariant
	case !s.Difficulty.Valid():
		return ErrInvalidDifficulty
	case len(s.Players) > RequiredPlayers:
		return ErrSessionFull
	case s.Turn < 1:
		return fmt.Errorf("%w: turn %d", ErrPrecondition, s.Turn)
	case len(s.Players) > 0 && (s.Current < 0 || s.Current >= len(s.Players)):
		return fmt.Errorf("%w: current player %d", ErrPrecondition, s.Current)
	}
	switch s.State {
	case Waiting, Ongoing, Win, Draw:
	default:
		return fmt.Errorf("%w: state %q", ErrPrecondition, s.State)
	}
	return nil
}
