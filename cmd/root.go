package cmd

import (
	"os"

	"github.com/encodeous/ripd/state"
	"github.com/spf13/cobra"
)

var configPath = state.DefaultConfigPath

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ripd",
	Short: "ripd distance vector routing daemon",
	Long: `ripd is a RIP version 2 routing daemon.
It exchanges routes with neighbouring routers over UDP port 520, keeps a routing table with split horizon and poisoned reverse, and ages out routes from neighbours that go silent.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Initialize ripd",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "ny",
		Title: "ripd Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configPath, "router config")
}
