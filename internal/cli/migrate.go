package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-tutor-service/internal/config"
	"quiz-tutor-service/internal/infra/memory"
	"quiz-tutor-service/internal/infra/postgres"
	pgmigrations "quiz-tutor-service/internal/infra/postgres/migrations"
)

// NewMigrateCmd applies question bank migrations and optionally seeds sample questions.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run question bank migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := runMigrationsWithConfig(cmd.Context(), cfg); err != nil {
				return err
			}
			if seed {
				return seedQuestionBank(cmd.Context(), cfg)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "insert the built-in sample questions")
	return cmd
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
		log.Printf("question bank schema up to date")
		return nil
	}
	log.Printf("migrated question bank to %s", group)
	return nil
}

func seedQuestionBank(ctx context.Context, cfg config.Config) error {
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	entries := memory.SampleBank()
	if err := postgres.NewQuestionBank(pool).Upsert(ctx, entries); err != nil {
		return err
	}
	log.Printf("seeded %d questions", len(entries))
	return nil
}
