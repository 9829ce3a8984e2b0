package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Store plugins register their own migrators alongside their primary interface.
	_ "github.com/chirino/chat-service/internal/plugin/docstore/mongo"
	_ "github.com/chirino/chat-service/internal/plugin/store/relational"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the relational schema and the message collection indexes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("CHAT_SERVICE_DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("CHAT_SERVICE_DB_KIND"),
				Usage:   "Relational store (postgres|sqlite)",
				Value:   "postgres",
			},
			&cli.StringFlag{
				Name:    "docstore-kind",
				Sources: cli.EnvVars("CHAT_SERVICE_DOCSTORE_KIND"),
				Usage:   "Message store (mongo|none); none skips the document store",
				Value:   "mongo",
			},
			&cli.StringFlag{
				Name:    "mongo-url",
				Sources: cli.EnvVars("CHAT_SERVICE_MONGO_URL"),
				Usage:   "MongoDB connection URL",
			},
			&cli.StringFlag{
				Name:    "mongo-database",
				Sources: cli.EnvVars("CHAT_SERVICE_MONGO_DATABASE"),
				Usage:   "MongoDB database holding the messages collection",
				Value:   "chat",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.DatastoreType = cmd.String("db-kind")
			cfg.DocstoreType = cmd.String("docstore-kind")
			cfg.MongoURL = cmd.String("mongo-url")
			cfg.MongoDatabase = cmd.String("mongo-database")
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			// An explicit migrate run ignores CHAT_SERVICE_DB_MIGRATE_AT_START.
			cfg.DatastoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
