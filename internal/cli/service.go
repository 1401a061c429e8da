package cli

import (
	"os"

	"basalt/internal/ipc"

	"github.com/spf13/cobra"
)

// serviceCmd runs the elevated helper: a framed request/reply loop on
// stdio, driven by an unprivileged front-end through ipc.Client. The
// front-end launches it with elevated privileges (sudo or equivalent)
// when raw device access is needed.
var serviceCmd = &cobra.Command{
	Use:    "service",
	Short:  "Run the elevated-service request loop on stdio",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return ipc.NewServer(appCore, os.Stdin, os.Stdout).Serve()
	},
}

func init() {
	rootCmd.AddCommand(serviceCmd)
}
