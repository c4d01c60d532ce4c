package cmd

import (
	"github.com/spf13/cobra"

	"github.com/soundspine/capturemix/cmd/capture"
	"github.com/soundspine/capturemix/cmd/devices"
	"github.com/soundspine/capturemix/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "capturemix",
		Short: "Real-time audio capture mixing engine",
	}

	rootCmd.PersistentFlags().BoolVar(&settings.Debug, "debug", settings.Debug, "Enable debug output")

	rootCmd.AddCommand(
		capture.Command(settings),
		devices.Command(),
	)

	return rootCmd
}
