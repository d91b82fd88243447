package notify

import (
	"context"

	"github.com/rs/zerolog/log"
	"versus-quiz-service/internal/domain"
)

// LogNotifier writes lifecycle events to the log. Used when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event domain.LifecycleEvent) error {
	log.Info().
		Str("event", string(event.Type)).
		Str("session_id", event.SessionID).
		Str("player_id", event.PlayerID).
		Str("round_id", event.RoundID).
		Str("winner", string(event.Winner)).
		Msg("lifecycle event")
	return nil
}
