// Command eventctl is a thin operator CLI over the engine's storage
// layer, wired with spf13/cobra: one root command, one subcommand file
// per concern, no business logic beyond flag parsing and formatting.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eventengine/eventengine/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "eventctl",
		Short: "Operate an eventengine storage node",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "eventengine.yaml", "path to the engine config file")

	root.AddCommand(newTenantCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newBackupCmd())
	root.AddCommand(newUserCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if _, err := os.Stat(configPath); err != nil {
		return config.Default("."), nil
	}
	return config.Load(configPath)
}
