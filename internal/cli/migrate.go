package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"versus-quiz-service/internal/config"
	pgstore "versus-quiz-service/internal/infra/postgres"
	pgmigrations "versus-quiz-service/internal/infra/postgres/migrations"
)

// NewMigrateCmd applies database migrations and optionally seeds the built-in questions.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), *configPath, seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "upsert the built-in sample questions after migrating")
	return cmd
}

func runMigrations(ctx context.Context, configPath string, seed bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)
	if err := runMigrationsWithConfig(ctx, cfg); err != nil {
		return err
	}
	if !seed {
		return nil
	}
	return seedQuestions(ctx, cfg.Postgres.URL)
}

func seedQuestions(ctx context.Context, url string) error {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return err
	}
	defer pool.Close()

	loader := pgstore.NewQuestionLoader(pool)
	for _, q := range sampleQuestions() {
		if err := loader.SaveQuestion(ctx, q); err != nil {
			return fmt.Errorf("seed %s: %w", q.ID, err)
		}
	}
	log.Info().Int("questions", len(sampleQuestions())).Msg("sample questions seeded")
	return nil
}

func runMigrationsWithConfig(ctx context.Context, cfg config.Config) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		return err
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		log.Info().Msg("no new migrations")
		return nil
	}
	log.Info().Str("group", group.String()).Msg("migrations applied")
	return nil
}
