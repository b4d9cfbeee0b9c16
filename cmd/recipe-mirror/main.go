package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/imdevinc/recipe-mirror/internal/app"
	"github.com/imdevinc/recipe-mirror/internal/config"
	"github.com/imdevinc/recipe-mirror/internal/util"
)

const envConfigKey = "RECIPE_MIRROR_CONFIG"

var (
	// version is set via ldflags during build
	version = "dev"
)

// loadConfig reads the file named by --config, RECIPE_MIRROR_CONFIG or the
// platform default, in that order, and installs the logger.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration %s: %w", path, err)
	}
	if cmd.Bool("debug") {
		cfg.LogLevel = "debug"
	}
	app.SetupLogger(cfg)
	slog.Debug("Configuration loaded", "path", path, "mirrors", len(cfg.Mirrors))
	return cfg, nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "recipe-mirror",
		Usage:  "Keep a local recipe cache in sync with a remote document store",
		Action: runAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to configuration file (JSON or YAML)",
				Value:       util.GetDefaultConfigPath(),
				DefaultText: util.GetDefaultConfigPath(),
				Sources:     cli.EnvVars(envConfigKey),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log at debug level regardless of configuration",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the mirrors, the outbox drainer and the HTTP API",
				Action: runAction,
			},
			searchCommand(),
			favoritesCommand(),
			statusCommand(),
			resetCommand(),
			{
				Name:  "version",
				Usage: "Show version information",
				Action: func(_ context.Context, _ *cli.Command) error {
					fmt.Printf("recipe-mirror version %s\n", version)
					return nil
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}
