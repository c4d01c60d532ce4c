package main

import (
	"fmt"
	"os"

	"github.com/soundspine/capturemix/cmd"
	"github.com/soundspine/capturemix/internal/conf"
	"github.com/soundspine/capturemix/internal/logging"
)

func main() {
	settings := conf.Setting()
	logging.Init(logging.ParseLevel(settings.Log.Level))

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
