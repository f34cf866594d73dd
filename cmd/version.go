// File: cmd/version.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the application version. It is intended to be set at build time
// using ldflags, for example:
// go build -ldflags "-X github.com/cicerone-dev/cicerone/cmd.Version=1.0.0"
var Version = "0.1.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cicerone version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
