package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/kpelzel/sacnproxy/internal/netif"
)

var (
	interfacesJSON bool

	interfacesCmd = &cobra.Command{
		Use:   "interfaces",
		Short: "List network interfaces sACN can be received on",
		Long:  "List network interfaces sACN can be received on",
		RunE: func(cmd *cobra.Command, args []string) error {
			ifs, err := netif.List()
			if err != nil {
				return err
			}
			if interfacesJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ifs)
			}
			for _, i := range ifs {
				cmd.Println(i.String())
			}
			return nil
		},
	}
)

func init() {
	interfacesCmd.Flags().BoolVar(&interfacesJSON, "json", false, "print as json")
	RootCmd.AddCommand(interfacesCmd)
}
