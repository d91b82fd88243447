package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"versus-quiz-service/internal/app"
	"versus-quiz-service/internal/domain"
)

const maxLeaderboardLimit = 100

// NewRouter mounts the websocket endpoint and the JSON API behind CORS.
func NewRouter(service *app.MatchService, ws *WSHandler, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.ServeWS)
	mux.HandleFunc("GET /api/opponents", listOpponents(service))
	mux.HandleFunc("GET /api/leaderboard", leaderboard(service))
	mux.HandleFunc("GET /api/players/{id}/session", activeSession(service))
	mux.HandleFunc("POST /api/players/{id}/session/terminate", terminateSession(service))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: allowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

type opponentView struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"displayName"`
	Mode        domain.GameMode `json:"mode"`
	Profile     string          `json:"profile"`
}

func listOpponents(service *app.MatchService) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		specs := service.ListOpponents()
		out := make([]opponentView, 0, len(specs))
		for _, s := range specs {
			out = append(out, opponentView{ID: s.ID, DisplayName: s.DisplayName, Mode: s.Mode, Profile: s.ProfileName})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func leaderboard(service *app.MatchService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := domain.GameMode(r.URL.Query().Get("mode"))
		if mode == "" {
			mode = domain.ModeLightweight
		}
		if mode != domain.ModeLightweight && mode != domain.ModePremium {
			writeJSON(w, http.StatusBadRequest, errorPayload{Code: "bad_request", Message: "unknown mode"})
			return
		}
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, errorPayload{Code: "bad_request", Message: "invalid limit"})
				return
			}
			limit = min(n, maxLeaderboardLimit)
		}
		entries, err := service.Leaderboard(r.Context(), mode, limit)
		if err != nil {
			log.Error().Err(err).Msg("leaderboard query failed")
			writeJSON(w, http.StatusInternalServerError, errorPayload{Code: "internal", Message: "leaderboard unavailable"})
			return
		}
		if entries == nil {
			entries = []domain.LeaderboardEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func activeSession(service *app.MatchService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		binding, ok, err := service.ActiveSession(r.Context(), r.PathValue("id"))
		if err != nil {
			log.Error().Err(err).Msg("active session lookup failed")
			writeJSON(w, http.StatusInternalServerError, errorPayload{Code: "internal", Message: "lookup failed"})
			return
		}
		if !ok {
			writeJSON(w, http.StatusNotFound, errorPayload{Code: "no_active_session", Message: domain.ErrNoActiveSession.Error()})
			return
		}
		writeJSON(w, http.StatusOK, binding)
	}
}

type terminatedPayload struct {
	SessionID string `json:"sessionId"`
}

func terminateSession(service *app.MatchService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := service.TerminateActiveSession(r.Context(), r.PathValue("id"))
		switch {
		case errors.Is(err, domain.ErrNoActiveSession):
			writeJSON(w, http.StatusNotFound, errorPayload{Code: "no_active_session", Message: err.Error()})
		case errors.Is(err, domain.ErrNotParticipant):
			writeJSON(w, http.StatusForbidden, errorPayload{Code: errorCode(err), Message: err.Error()})
		case err != nil:
			log.Error().Err(err).Msg("terminate session failed")
			writeJSON(w, http.StatusInternalServerError, errorPayload{Code: "internal", Message: "terminate failed"})
		default:
			writeJSON(w, http.StatusOK, terminatedPayload{SessionID: sessionID})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
