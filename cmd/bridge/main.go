package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "garage-bridge",
	Short: "Expose a MyQ garage door to HomeKit",
	Long: `garage-bridge publishes one Chamberlain MyQ garage door opener as a
HomeKit accessory and keeps its state in sync with the MyQ cloud.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is fine
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("CONFIG_PATH", "config.yaml"), "path to configuration file")
	rootCmd.AddCommand(runCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
