package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"storyboard/config"
	"storyboard/config/database"
	"storyboard/internal/story/demo"
	"storyboard/internal/story/repository"
	"storyboard/internal/story/service"
	"storyboard/migrations"
	"storyboard/pkg/logger"
)

// Execute is the main entry point called from main.go.
func Execute(version string) {
	rootCmd := &cobra.Command{
		Use:   "storyboard",
		Short: "Story persistence backend",
		Long:  "storyboard stores gallery stories per user and serves the editor session API.",
		// Running with no subcommand starts the server.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newShellCmd())
	rootCmd.AddCommand(newVersionCmd(version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "storyboard %s\n", version)
		},
	}
}

// bootstrap loads config, starts logging and attaches the database when one is
// configured. Without one the handle stays empty and every store call answers
// ErrBackendUnavailable.
func bootstrap(ctx context.Context) (*config.Config, *database.Handle, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	handle := database.NewHandle(nil)
	if !cfg.DatabaseConfigured() {
		logger.Sugar.Warn("No database configured; only the demo story is available")
		return cfg, handle, nil
	}

	db, err := database.Connect(ctx, cfg.DSN())
	if err != nil {
		return nil, nil, err
	}
	handle.Set(db)

	if cfg.MigrateOnStart {
		if err := migrations.Up(ctx, db); err != nil {
			handle.Close()
			return nil, nil, err
		}
		logger.Sugar.Info("Migrations applied")
	}
	return cfg, handle, nil
}

func newStore(handle *database.Handle) service.Store {
	return service.NewStoryService(repository.NewStoryRepository(handle))
}

func demoFetcher(cfg *config.Config) demo.Fetcher {
	if cfg.DemoBaseURL != "" {
		return demo.NewHTTPFetcher(cfg.DemoBaseURL, cfg.DemoBasePath)
	}
	f := demo.NewFSFetcher()
	f.BasePath = cfg.DemoBasePath
	return f
}
