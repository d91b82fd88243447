package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"versus-quiz-service/internal/app"
	"versus-quiz-service/internal/config"
	"versus-quiz-service/internal/domain"
	"versus-quiz-service/internal/infra/file"
	"versus-quiz-service/internal/infra/memory"
	pgstore "versus-quiz-service/internal/infra/postgres"
	redisstore "versus-quiz-service/internal/infra/redis"
	"versus-quiz-service/internal/notify"
	"versus-quiz-service/internal/opponent"
	"versus-quiz-service/internal/ratelimit"
	"versus-quiz-service/internal/stream"
	transport "versus-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the match server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	clock := clockwork.NewRealClock()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 30*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestions())
	var results app.ResultRepository = memory.NewResultStore()
	if pool != nil {
		loader = pgstore.NewQuestionLoader(pool)
		results = pgstore.NewResultRepository(pool)
	}

	questionTTL := config.Duration(cfg.Questions.TTL, 10*time.Minute)
	var questions app.QuestionRepository
	var sessions app.SessionRepository
	var registry app.ActiveSessionRegistry
	if redisClient != nil {
		questions = redisstore.NewQuestionRepository(redisClient, loader, questionTTL)
		sessions = redisstore.NewSessionStore(redisClient, redisTTL)
		registry = redisstore.NewActiveSessions(redisClient, redisTTL)
	} else {
		questions = memory.NewQuestionRepository(loader, questionTTL, clock)
		sessions = memory.NewSessionStore()
		registry = memory.NewActiveSessions()
	}

	// Redis-backed windows are shared by every instance; local ones only by this process.
	guard := func(w config.Window) app.Guard {
		window, limit := w.Limit()
		if redisClient != nil {
			return redisstore.NewRateLimiter(redisClient, window, limit)
		}
		return ratelimit.NewKeyedLimiter(clock, window, limit)
	}

	opponents, err := buildOpponents(cfg, clock)
	if err != nil {
		return err
	}

	var notifier app.Notifier = notify.LogNotifier{}
	if cfg.NATS.URL != "" {
		prefix := cfg.NATS.SubjectPrefix
		if prefix == "" {
			prefix = "versus"
		}
		natsNotifier, err := notify.Connect(cfg.NATS.URL, prefix)
		if err != nil {
			return err
		}
		defer func() {
			if err := natsNotifier.Close(); err != nil {
				log.Warn().Err(err).Msg("nats drain failed")
			}
		}()
		notifier = natsNotifier
	}

	service := app.NewMatchService(app.Dependencies{
		Sessions:  sessions,
		Questions: questions,
		Opponents: opponents,
		Registry:  registry,
		Results:   results,
		Notifier:  notifier,
		Slots:     ratelimit.NewActiveSessions(cfg.RateLimit.ActiveSessions),
		SessionRules: []app.AdmissionRule{
			{Name: "session:global", Guard: guard(cfg.RateLimit.SessionGlobal)},
			{Name: "session:user:", PerPlayer: true, Guard: guard(cfg.RateLimit.SessionUser)},
		},
		LLMRules: []app.AdmissionRule{
			{Name: "llm:global", Guard: guard(cfg.RateLimit.LLMGlobal)},
			{Name: "llm:user:", PerPlayer: true, Guard: guard(cfg.RateLimit.LLMUser)},
		},
		Clock: clock,
	}, app.Settings{
		RoundDuration: config.Duration(cfg.Round.Duration, 30*time.Second),
		MaxRounds:     cfg.Round.MaxRounds,
		DetachGrace:   config.Duration(cfg.Round.DetachGrace, time.Minute),
		MaxLifespan:   config.Duration(cfg.Round.MaxLifespan, time.Hour),
	})

	msgWindow, msgMax := cfg.RateLimit.WSMessages.Limit()
	wsHandler := transport.NewWSHandler(service, transport.WSOptions{
		MessageWindow: msgWindow,
		MessageMax:    msgMax,
		Clock:         clock,
	})

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(service, wsHandler, cfg.Server.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", finalPort).Int("opponents", len(opponents.Specs())).Msg("starting match service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		service.Close()
		return err
	})
	return g.Wait()
}

// buildOpponents loads opponent definitions and transcripts, falling back to
// the built-in replay opponent when no files are configured.
func buildOpponents(cfg config.Config, clock clockwork.Clock) (*opponent.Registry, error) {
	specs := sampleOpponents()
	if cfg.Opponents.SpecPath != "" {
		loaded, err := opponent.LoadSpecs(cfg.Opponents.SpecPath)
		if err != nil {
			return nil, err
		}
		specs = loaded
	}

	transcripts := file.NewStaticTranscriptStore(sampleTranscripts())
	if cfg.Opponents.TranscriptPath != "" {
		transcripts = file.NewTranscriptStore(cfg.Opponents.TranscriptPath)
	}
	return opponent.NewRegistry(specs, transcripts, stream.NewPacer(clock)), nil
}

// sampleQuestions is the built-in question set used when Postgres is not configured.
func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:         "q-planet",
			Prompt:     "Which planet is known as the red planet?",
			Choices:    []string{"Venus", "Mars", "Jupiter", "Saturn"},
			Difficulty: domain.DifficultyEasy,
			Verifier:   domain.MultipleChoiceSpec{CorrectIndex: 1},
		},
		{
			ID:         "q-primes",
			Prompt:     "How many prime numbers are there below 20?",
			Difficulty: domain.DifficultyMedium,
			Verifier:   domain.IntegerRangeSpec{CorrectValue: 8, Min: 0, Max: 20},
		},
		{
			ID:         "q-author",
			Prompt:     "Who wrote Hamlet?",
			Difficulty: domain.DifficultyHard,
			Verifier:   domain.FreeResponseSpec{Rubric: "William Shakespeare", Keywords: []string{"shakespeare"}},
		},
	}
}

func sampleOpponents() []domain.OpponentSpec {
	return []domain.OpponentSpec{{
		ID:          "replay-quick",
		Mode:        domain.ModeLightweight,
		DisplayName: "Quick Thinker",
		ProfileName: "quick",
		Streaming: domain.StreamingPolicy{
			RevealDelay:            300 * time.Millisecond,
			TargetTokensPerSecond:  30,
			BurstMultiplierOnFinal: 2,
			MaxBufferedChars:       20000,
		},
	}}
}

func sampleTranscripts() []domain.LlmTranscript {
	return []domain.LlmTranscript{
		{
			QuestionID:             "q-planet",
			ProfileName:            "quick",
			Reasoning:              "The red colour comes from iron oxide on the surface. That leaves Mars.",
			FinalAnswer:            domain.MultipleChoiceAnswer{ChoiceIndex: 1},
			AverageTokensPerSecond: 25,
			ChunkSizeTokens:        4,
		},
		{
			QuestionID:             "q-primes",
			ProfileName:            "quick",
			Reasoning:              "Primes below twenty: 2, 3, 5, 7, 11, 13, 17, 19. Eight of them.",
			FinalAnswer:            domain.IntegerAnswer{Value: 8},
			AverageTokensPerSecond: 20,
			ChunkSizeTokens:        3,
		},
		{
			QuestionID:             "q-author",
			ProfileName:            "quick",
			Reasoning:              "The play about the Danish prince was written by the Bard of Avon.",
			FinalAnswer:            domain.FreeTextAnswer{Text: "William Shakespeare"},
			AverageTokensPerSecond: 22,
			ChunkSizeTokens:        5,
		},
	}
}
