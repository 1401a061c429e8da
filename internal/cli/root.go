// Package cli implements the basalt command-line front-end. It maps
// core errors to one-line messages and exit codes; the core itself
// never writes to stdout or stderr.
package cli

import (
	"fmt"
	"os"

	"basalt/internal/config"
	"basalt/internal/core"
	"basalt/internal/errors"
	"basalt/internal/log"
	"basalt/internal/worker"

	"github.com/spf13/cobra"
)

// Version is set by main.go.
var Version = "dev"

// appCore is the process-wide core instance behind every subcommand.
var appCore = core.New()

// cfg holds the loaded defaults file.
var cfg = &config.Config{DefaultCascade: "AES", DefaultKdf: "Argon2id"}

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "basalt",
	Short: "Encrypted volume container tool",
	Long: `Basalt presents an encrypted container file or block device as a
plain read/write block device on a loopback endpoint:
  - AES, Serpent, and Twofish cascades in XTS mode
  - Argon2id or PBKDF2 (SHA-512, RIPEMD-160, Whirlpool) key derivation
  - Hidden volumes with plausible deniability
  - Header backup and restore, password and KDF changes`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if loaded, err := config.Load(); err == nil {
			cfg = loaded
		}
		if verbose || cfg.Verbose {
			log.SetLogger(log.NewSimpleLogger(os.Stderr, log.LevelDebug))
		}
		// A configured worker count wins over the CPU-based default;
		// Init's Start is idempotent and keeps the running pool.
		if cfg.Workers > 0 {
			worker.Default().StartN(cfg.Workers)
		}
		return appCore.Init()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		appCore.Shutdown()
	},
}

// Execute runs the CLI and returns the process exit code. UserAbort is
// distinguishable from other failures.
func Execute(version string) int {
	Version = version
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "basalt: %v\n", err)
		if errors.IsUserAbort(err) {
			return 2
		}
		return 1
	}
	return 0
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
}
