package cmd

import (
	"fmt"

	"github.com/encodeous/ripd/state"
	"github.com/encodeous/ripd/sys"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validates the config and prints it with defaults applied",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := state.LoadConfig(configPath)
		if err != nil {
			panic(err)
		}

		if ok, _ := cmd.Flags().GetBool("system"); ok {
			ifaces, err := sys.ResolveInterfaces(cfg)
			if err != nil {
				panic(err)
			}
			for _, i := range ifaces {
				fmt.Printf("found %s\n", i)
			}
			if err := sys.VerifyForwarding(); err != nil {
				fmt.Printf("warning: %s\n", err)
			}
		}

		cfgYaml, err := cfg.Marshal()
		if err != nil {
			panic(err)
		}

		fmt.Println("Config is valid")
		fmt.Println(string(cfgYaml))
	},
	GroupID: "ny",
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().BoolP("system", "s", false, "Also check the interfaces against this host")
}
