package commands

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
	healthAddr string
)

// Execute runs the menudemo CLI.
func Execute() error {
	root := &cobra.Command{
		Use:   "menudemo",
		Short: "Demo Telegram bot built on telemenu screens",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to YAML config")
	root.PersistentFlags().StringVar(&envFile, "env", "", "optional .env file loaded before config")
	root.PersistentFlags().StringVar(&healthAddr, "health-addr", ":8080", "health endpoint listen address, empty to disable")

	root.AddCommand(runCmd(), versionCmd())
	return root.Execute()
}
