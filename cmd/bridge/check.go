package main

import (
	"context"
	"fmt"
	"time"

	"garage-bridge/internal/adapters/output/myq"
	"garage-bridge/internal/domain/translator"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and fetch the door state once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		setupLogging(cfg.Log)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client := myq.NewClient(cfg.DeviceID, cfg.Username, cfg.Password, cfg.MyQ)
		raw, err := client.GetDeviceAttribute(ctx, "door_state")
		if err != nil {
			return err
		}

		state, err := (&translator.MyQStrategy{}).ToCurrent(raw)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: door is %s\n", cfg.Name, state)
		return nil
	},
}
