package main

import (
	"context"
	"os/signal"
	"syscall"

	"garage-bridge/internal/adapters/input/homekit"
	"garage-bridge/internal/adapters/input/http"
	"garage-bridge/internal/adapters/output/myq"
	"garage-bridge/internal/adapters/output/persistence"
	"garage-bridge/internal/domain/model"
	"garage-bridge/internal/domain/service"
	"garage-bridge/internal/ports"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Publish the accessory and start reconciling door state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		setupLogging(cfg.Log)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg)
	},
}

func loadConfig(ctx context.Context) (*model.Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var repo ports.ConfigRepository = persistence.NewYAMLConfigRepository(configPath)
	return repo.Get(ctx)
}

func run(ctx context.Context, cfg *model.Config) error {
	logger := log.With().Str("accessory", cfg.Name).Logger()
	logger.Info().Str("version", version).Str("device", cfg.DeviceID).Msg("Starting garage bridge")

	client := myq.NewClient(cfg.DeviceID, cfg.Username, cfg.Password, cfg.MyQ)

	reconciler := service.NewReconciler(logger, client, service.WithPolicy(service.PollPolicy{
		ActiveDelay: cfg.Poll.ActiveDelay,
		IdleDelay:   cfg.Poll.IdleDelay,
	}))

	acc := homekit.NewAccessory(reconciler, homekit.Info{
		Name:         cfg.Name,
		DeviceID:     cfg.DeviceID,
		SerialNumber: cfg.HomeKit.SerialNumber,
		Manufacturer: cfg.HomeKit.Manufacturer,
		Model:        cfg.HomeKit.Model,
		Firmware:     version,
	}, logger)

	g, ctx := errgroup.WithContext(ctx)

	reconciler.Start(ctx)
	defer reconciler.Stop()

	g.Go(func() error {
		return acc.ListenAndServe(ctx, cfg.HomeKit)
	})

	if cfg.Status.Addr != "" {
		status := http.NewServer(reconciler, acc, logger)
		g.Go(func() error {
			return status.ListenAndServe(ctx, cfg.Status.Addr)
		})
	}

	err := g.Wait()
	logger.Info().Msg("Garage bridge stopped")
	return err
}
