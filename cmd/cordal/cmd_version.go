package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// versionCmd is the cobra CLI command for the version subcommand
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Println(BuildDetails())
			if commit != "" {
				fmt.Printf("commit: %s\n", commit)
			}
			if date != "" {
				fmt.Printf("built:  %s\n", date)
			}
		},
	}
}
