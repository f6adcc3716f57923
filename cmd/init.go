package cmd

import (
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/encodeous/ripd/state"
	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "new [name]",
	Short: "Create a router configuration",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
			_ = cmd.Usage()
			return
		}

		name := args[0]
		err := state.NameValidator(name)
		if err != nil {
			fmt.Printf("Invalid name: %s\n", name)
			os.Exit(-1)
		}

		cfg := state.DefaultConfig(name)
		ifaces, _ := cmd.Flags().GetStringSlice("interface")
		for _, spec := range ifaces {
			ic, err := parseInterface(spec)
			if err != nil {
				fmt.Println(err.Error())
				os.Exit(-1)
			}
			cfg.Interfaces = append(cfg.Interfaces, ic)
		}

		out, err := cfg.Marshal()
		if err != nil {
			panic(err)
		}

		outPath := cmd.Flag("output").Value.String()
		err = os.WriteFile(outPath, out, 0600)
		if err != nil {
			panic(err)
		}
	},
	GroupID: "init",
}

// parseInterface reads name=address[,cost] as given to ripd new -i.
func parseInterface(s string) (state.InterfaceCfg, error) {
	name, rest, ok := strings.Cut(s, "=")
	if !ok {
		return state.InterfaceCfg{}, fmt.Errorf("interface %q must look like eth0=10.0.1.1/24", s)
	}
	address, cost, _ := strings.Cut(rest, ",")
	pfx, err := netip.ParsePrefix(address)
	if err != nil {
		return state.InterfaceCfg{}, fmt.Errorf("interface %s: %w", name, err)
	}
	ic := state.InterfaceCfg{Name: name, Address: pfx}
	if cost != "" {
		if _, err := fmt.Sscanf(cost, "%d", &ic.Cost); err != nil {
			return state.InterfaceCfg{}, fmt.Errorf("interface %s: bad cost %q", name, cost)
		}
	}
	if err := state.InterfaceValidator(&ic); err != nil {
		return state.InterfaceCfg{}, err
	}
	return ic, nil
}

func init() {
	rootCmd.AddCommand(newCmd)

	newCmd.Flags().StringP("output", "o", state.DefaultConfigPath, "Output path for the config")
	newCmd.Flags().StringSliceP("interface", "i", nil, "Interface as name=address[,cost], may be repeated")
}
