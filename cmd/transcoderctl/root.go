package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kiranshivaraju/transcoder/internal/config"
	"github.com/kiranshivaraju/transcoder/internal/store"
	"github.com/kiranshivaraju/transcoder/pkg/models"
	"github.com/spf13/cobra"
)

// adminStore is the slice of store.Store the CLI touches.
type adminStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListJobs(ctx context.Context, owner string) ([]*models.Job, error)
	ListVideos(ctx context.Context, owner string) ([]*models.Video, error)
}

type openFunc func(ctx context.Context, databaseURL string) (adminStore, func(), error)

type commandContext struct {
	databaseURL string
	open        openFunc
}

func (c *commandContext) store(ctx context.Context) (adminStore, func(), error) {
	if c.databaseURL == "" {
		return nil, nil, fmt.Errorf("database URL is required (--database-url or DATABASE_URL)")
	}
	return c.open(ctx, c.databaseURL)
}

func openPostgres(ctx context.Context, databaseURL string) (adminStore, func(), error) {
	pool, err := store.Connect(ctx, config.DatabaseConfig{
		URL:             databaseURL,
		MaxOpenConns:    2,
		MaxIdleConns:    0,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

func newRootCommand(open openFunc) *cobra.Command {
	ctx := &commandContext{open: open}

	rootCmd := &cobra.Command{
		Use:           "transcoderctl",
		Short:         "Transcoder admin CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection URL")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newKeysCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newVideosCommand(ctx))

	return rootCmd
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ctx.databaseURL == "" {
				return fmt.Errorf("database URL is required (--database-url or DATABASE_URL)")
			}
			if err := store.RunMigrations(ctx.databaseURL, dir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "Directory holding migration files")
	return cmd
}
