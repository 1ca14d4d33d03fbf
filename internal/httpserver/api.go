// internal/httpserver/api.go
//
// Request and response bodies of the JSON API. The client package encodes
// the same types, so both ends agree on field names.

package httpserver

import (
	"github.com/robalobadob/connect4/internal/game"
	"github.com/robalobadob/connect4/internal/store"
)

type GreetRequest struct {
	Player string `json:"player"`
	Host   string `json:"host"` // empty: use the caller's address
	Port   int    `json:"port"`
	Secret string `json:"secret,omitempty"`
}

type GreetResponse struct {
	OK    bool   `json:"ok"`
	Token string `json:"token,omitempty"`
}

type CreateRequest struct {
	Variant    string `json:"variant"`    // "connect4" | "otto"
	Difficulty string `json:"difficulty"` // "easy" | "medium" | "hard"
	Opponent   string `json:"opponent"`   // "human" | "ai"
}

// SessionRequest addresses one session (join, reset, discard).
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

type SessionResponse struct {
	SessionID string         `json:"sessionId"`
	Snapshot  *game.Snapshot `json:"snapshot,omitempty"`
}

type PlaceRequest struct {
	SessionID string `json:"sessionId"`
	Column    int    `json:"column"`
}

type PlaceResponse struct {
	OK       bool          `json:"ok"`
	Snapshot game.Snapshot `json:"snapshot"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type SessionsResponse struct {
	Sessions []game.Snapshot `json:"sessions"`
}

type LeaderboardResponse struct {
	Players []store.PlayerRecord `json:"players"`
}
