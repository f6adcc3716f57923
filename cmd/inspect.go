package cmd

import (
	"fmt"

	"github.com/encodeous/ripd/core"
	"github.com/encodeous/ripd/state"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect",
	Aliases: []string{"i"},
	Short:   "Inspects the routing table of a running ripd",
	Run: func(cmd *cobra.Command, args []string) {
		socket, _ := cmd.Flags().GetString("socket")
		result, err := core.IPCGet(socket)
		if err != nil {
			fmt.Println("Error:", err.Error())
			return
		}
		fmt.Print(result)
	},
	GroupID: "ny",
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringP("socket", "s", state.DefaultControlSocket, "Path to the control socket")
}
