package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/marrasen/iec61850-gateway/iec61850"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway and libiec61850 versions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			version := "(devel)"
			if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
				version = info.Main.Version
			}
			fmt.Fprintf(cmd.OutOrStdout(), "iec61850-gateway %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "libiec61850 %s\n", iec61850.GetVersionString())
		},
	}
}
