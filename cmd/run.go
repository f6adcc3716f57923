package cmd

import (
	"context"
	"log/slog"

	"github.com/encodeous/ripd/core"
	"github.com/encodeous/ripd/device"
	"github.com/encodeous/ripd/state"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run ripd",
	Long:  `This will run ripd on the current host. Binding port 520 and installing routes requires root or CAP_NET_ADMIN and CAP_NET_BIND_SERVICE.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := state.LoadConfig(configPath)
		if err != nil {
			panic(err)
		}
		if logPath, _ := cmd.Flags().GetString("log-path"); logPath != "" {
			cfg.LogPath = logPath
		}

		level := slog.LevelInfo
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			level = slog.LevelDebug
		}

		err = core.Start(*cfg, level, func(ctx context.Context, ifaces state.Interfaces) (core.Transport, error) {
			sock, err := device.ListenRipSock(ctx, ifaces)
			if err != nil {
				return nil, err
			}
			return sock, nil
		})
		if err != nil {
			panic(err)
		}
	},
	GroupID: "ny",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output, including every route change and table dumps")
	runCmd.Flags().StringP("log-path", "l", "", "Also write logs to this file")
}
