package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nutricoach/scheduling-api/internal/config"
	"github.com/nutricoach/scheduling-api/pkg/logger"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "scheduling-api",
		Short:         "Appointment scheduling and availability API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "directory containing config.yaml")

	root.AddCommand(newServeCommand(), newMigrateCommand(), newTokenCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// loadConfig also installs the configured logger as the global zerolog logger,
// which the HTTP middleware writes to.
func loadConfig() (*config.Config, *logger.Logger, error) {
	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return nil, nil, err
	}

	l := logger.NewLogger(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})
	log.Logger = l.Zerolog()
	return cfg, l, nil
}
