package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/diffuse"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of diffuse",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "diffuse version %s\n", strings.TrimSpace(diffuse.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
