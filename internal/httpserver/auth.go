// internal/httpserver/auth.go
//
// Player authentication.
// Responsibilities:
//   - POST /rpc/greet: verify (or enrol) the player's secret, open the
//     callback channel and issue an HS256 JWT with sub=player.
//   - requireAuth middleware: Bearer header or cookie, injects the player
//     name into the request context.
//
// Secrets are optional: a name greeted without one stays open to anyone
// until a greet with a secret claims it.

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/robalobadob/connect4/internal/store"
)

const cookieName = "c4_token"

// ctxPlayerKey is the context key type for the authenticated player name.
type ctxPlayerKey struct{}

// playerFrom returns the authenticated player name of r.
func playerFrom(r *http.Request) string {
	p, _ := r.Context().Value(ctxPlayerKey{}).(string)
	return p
}

func (s *Server) handleGreet(w http.ResponseWriter, r *http.Request) {
	var req GreetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	req.Player = strings.TrimSpace(req.Player)
	if err := validateName(req.Player); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	if err := s.checkSecret(r.Context(), req.Player, req.Secret); err != nil {
		if errors.Is(err, errBadSecret) {
			http.Error(w, `{"error":"invalid_secret"}`, http.StatusUnauthorized)
			return
		}
		writeError(w, err)
		return
	}

	host := req.Host
	if host == "" {
		host = remoteHost(r)
	}
	if !s.game.Greet(r.Context(), req.Player, host, req.Port) {
		writeJSON(w, GreetResponse{OK: false})
		return
	}

	tok, exp, err := s.signJWT(req.Player)
	if err != nil {
		http.Error(w, `{"error":"sign_failed"}`, http.StatusInternalServerError)
		return
	}
	s.setAuthCookie(w, tok, exp)
	writeJSON(w, GreetResponse{OK: true, Token: tok})
}

var errBadSecret = errors.New("invalid secret")

// checkSecret compares secret with the stored bcrypt hash, enrolling it on
// first use.
func (s *Server) checkSecret(ctx context.Context, player, secret string) error {
	rec, err := s.store.Player(ctx, player)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err == nil && rec.SecretHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(rec.SecretHash), []byte(secret)) != nil {
			return errBadSecret
		}
		return nil
	}
	if secret == "" {
		return nil
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.store.SavePlayer(ctx, store.PlayerRecord{Name: player, SecretHash: string(h)}); err != nil {
		return err
	}
	log.Info().Str("player", player).Msg("player secret enrolled")
	return nil
}

// validateName enforces basic player name rules.
func validateName(n string) error {
	if len(n) < 1 || len(n) > 24 {
		return errors.New("player name must be 1-24 chars")
	}
	for _, r := range n {
		if !(r == '_' || r == '-' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return errors.New("player name: letters, numbers, dash, underscore only")
		}
	}
	return nil
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ------------------------------ JWT & cookies ------------------------------

// signJWT creates an HS256 JWT for player that expires after TokenTTL.
func (s *Server) signJWT(player string) (string, time.Time, error) {
	ttl := s.cfg.TokenTTL
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	now := time.Now()
	exp := now.Add(ttl)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": player,
		"exp": exp.Unix(),
		"iat": now.Unix(),
	})
	ss, err := t.SignedString([]byte(s.cfg.JWTSecret))
	return ss, exp, err
}

// setAuthCookie writes the token cookie for browser front-ends.
func (s *Server) setAuthCookie(w http.ResponseWriter, token string, exp time.Time) {
	sameSite := http.SameSiteLaxMode
	if s.cfg.Production {
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Production,
		SameSite: sameSite,
		Expires:  exp,
	})
}

// bearerOrCookie extracts a bearer token from Authorization header or auth cookie.
func bearerOrCookie(r *http.Request) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

// requireAuth enforces a valid JWT and injects the player name into the
// request context.
func (s *Server) requireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerOrCookie(r)
			if tokenStr == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				return []byte(s.cfg.JWTSecret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				http.Error(w, `{"error":"invalid_token"}`, http.StatusUnauthorized)
				return
			}
			player, _ := claims["sub"].(string)
			if player == "" {
				http.Error(w, `{"error":"invalid_token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxPlayerKey{}, player)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
