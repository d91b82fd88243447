package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"versus-quiz-service/internal/app"
	"versus-quiz-service/internal/domain"
	"versus-quiz-service/internal/ratelimit"
)

// WSOptions bounds inbound traffic per connection.
type WSOptions struct {
	MessageWindow time.Duration
	MessageMax    int
	Clock         clockwork.Clock
}

type WSHandler struct {
	service  *app.MatchService
	opts     WSOptions
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.MatchService, opts WSOptions) *WSHandler {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &WSHandler{
		service: service,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades HTTP requests to websockets and wires them into the match use cases.
// A new session is joined unless resume=1, in which case the player's live session is taken over.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	playerID := q.Get("playerId")
	nickname := q.Get("name")
	opponentID := q.Get("opponent")
	resume := q.Get("resume") == "1"
	if playerID == "" || (!resume && (nickname == "" || opponentID == "")) {
		http.Error(w, "missing playerId, name, or opponent", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	// Sessions outlive the request; only the handshake uses its context.
	ctx := context.WithoutCancel(r.Context())

	var binding domain.ActiveSessionBinding
	if resume {
		binding, err = h.service.Reconnect(ctx, playerID)
	} else {
		binding, err = h.service.JoinSession(ctx, playerID, nickname, opponentID)
	}
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	sessionID := binding.SessionID
	logger := log.With().Str("session_id", sessionID).Str("player_id", playerID).Logger()

	updates, cancel, err := h.service.Subscribe(ctx, sessionID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	left := false
	defer func() {
		cancel()
		if !left {
			h.service.Detach(sessionID)
		}
	}()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Single writer: gorilla connections do not support concurrent writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug().Err(err).Msg("ws write error")
				return
			}
			if msg.Type == sessionClosedType {
				// Unblocks the reader so the handler can return.
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				_ = conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					select {
					case send <- outboundMessage[any]{Type: sessionClosedType}:
					case <-closeSignals:
					case <-writerDone:
					}
					return
				}
				select {
				case send <- toOutbound(update):
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	// push drops the message once the writer has failed.
	push := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	push(outboundMessage[any]{Type: "joined", Payload: joinedPayload{ActiveSessionBinding: binding, Resumed: resume}})

	limiter := ratelimit.NewConnectionLimiter(h.opts.Clock, h.opts.MessageWindow, h.opts.MessageMax)
	for !left {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if !limiter.Allow() {
			push(errorMessage(domain.ErrRateLimited))
			continue
		}
		switch inbound.Type {
		case "start_round":
			var payload startRoundPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.QuestionID == "" {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "invalid start_round payload"}})
				continue
			}
			if _, err := h.service.StartRound(ctx, sessionID, playerID, payload.QuestionID); err != nil {
				push(errorMessage(err))
			}
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "invalid answer payload"}})
				continue
			}
			answer, err := payload.Answer.Decode()
			if err != nil {
				push(errorMessage(err))
				continue
			}
			if err := h.service.SubmitAnswer(ctx, sessionID, playerID, payload.RoundID, answer, payload.ClientSentAt); err != nil {
				push(errorMessage(err))
			}
		case "leave":
			if err := h.service.Leave(ctx, sessionID, playerID); err != nil {
				push(errorMessage(err))
				continue
			}
			left = true
		default:
			push(outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
	logger.Debug().Bool("left", left).Msg("ws connection closed")
}
