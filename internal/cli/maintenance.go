package cli

import (
	"fmt"
	"slices"

	"basalt/internal/core"

	"github.com/spf13/cobra"
)

var changePwFlags struct {
	keyfiles    []string
	newKeyfiles []string
	newKdf      string
}

var changePasswordCmd = &cobra.Command{
	Use:   "change-password <volume>",
	Short: "Change a volume's password, keyfiles, or KDF",
	Long: `Re-encrypts the volume header(s) with fresh salt under new
credentials. The master key - and therefore the data - is untouched.
Passing the same password with --kdf upgrades the key derivation
without changing the password.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		oldPassword, err := promptPassword("Current password: ", false, len(changePwFlags.keyfiles) > 0)
		if err != nil {
			return err
		}
		defer oldPassword.Close()

		newPassword, err := promptPassword("New password: ", true, len(changePwFlags.newKeyfiles) > 0)
		if err != nil {
			return err
		}
		defer newPassword.Close()

		// Same credentials presented twice with --kdf set is a KDF
		// upgrade, not a password change: skip re-encrypting under an
		// unchanged password and go through the dedicated upgrade path.
		sameCreds := oldPassword.Equal(newPassword) && slices.Equal(changePwFlags.keyfiles, changePwFlags.newKeyfiles)
		if sameCreds && changePwFlags.newKdf != "" {
			name, err := appCore.UpgradeVolumeKdf(args[0],
				core.Credentials{Password: oldPassword, Keyfiles: changePwFlags.keyfiles},
				changePwFlags.newKdf)
			if err != nil {
				return err
			}
			fmt.Printf("KDF upgraded to %s\n", name)
			return nil
		}

		err = appCore.ChangePassword(args[0],
			core.Credentials{Password: oldPassword, Keyfiles: changePwFlags.keyfiles},
			core.Credentials{Password: newPassword, Keyfiles: changePwFlags.newKeyfiles},
			changePwFlags.newKdf)
		if err != nil {
			return err
		}
		fmt.Println("Password changed")
		return nil
	},
}

var backupFlags struct {
	keyfiles       []string
	hidden         bool
	hiddenKeyfiles []string
}

var backupCmd = &cobra.Command{
	Use:   "backup <volume> <backup-file>",
	Short: "Back up volume headers to an external file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := promptPassword("Password: ", false, len(backupFlags.keyfiles) > 0)
		if err != nil {
			return err
		}
		defer password.Close()

		creds := core.Credentials{Password: password, Keyfiles: backupFlags.keyfiles}

		var hiddenCreds *core.Credentials
		if backupFlags.hidden {
			hp, err := promptPassword("Hidden volume password: ", false, len(backupFlags.hiddenKeyfiles) > 0)
			if err != nil {
				return err
			}
			defer hp.Close()
			hiddenCreds = &core.Credentials{Password: hp, Keyfiles: backupFlags.hiddenKeyfiles}
		}

		if err := appCore.BackupHeaders(args[0], args[1], creds, hiddenCreds); err != nil {
			return err
		}
		fmt.Printf("Headers backed up to %s\n", args[1])
		return nil
	},
}

var restoreFlags struct {
	keyfiles []string
	file     string
}

var restoreCmd = &cobra.Command{
	Use:   "restore <volume>",
	Short: "Restore volume headers from the internal backup or a backup file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := promptPassword("Password: ", false, len(restoreFlags.keyfiles) > 0)
		if err != nil {
			return err
		}
		defer password.Close()

		creds := core.Credentials{Password: password, Keyfiles: restoreFlags.keyfiles}

		if restoreFlags.file != "" {
			if err := appCore.RestoreHeadersFromFile(args[0], restoreFlags.file, creds); err != nil {
				return err
			}
		} else {
			if err := appCore.RestoreHeadersFromInternalBackup(args[0], creds); err != nil {
				return err
			}
		}
		fmt.Println("Headers restored")
		return nil
	},
}

var keyfileCmd = &cobra.Command{
	Use:   "keyfile <path>",
	Short: "Create a new 64-byte random keyfile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appCore.CreateKeyfile(args[0]); err != nil {
			return err
		}
		fmt.Printf("Keyfile created: %s\n", args[0])
		return nil
	},
}

var selfTestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run the cipher, hash, and KDF known-answer tests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appCore.RunSelfTest(); err != nil {
			return err
		}
		fmt.Println("Self-test passed")
		return nil
	},
}

func init() {
	changePasswordCmd.Flags().StringSliceVarP(&changePwFlags.keyfiles, "keyfile", "k", nil, "current keyfile (repeatable)")
	changePasswordCmd.Flags().StringSliceVar(&changePwFlags.newKeyfiles, "new-keyfile", nil, "new keyfile (repeatable)")
	changePasswordCmd.Flags().StringVar(&changePwFlags.newKdf, "kdf", "", "switch to this KDF")

	backupCmd.Flags().StringSliceVarP(&backupFlags.keyfiles, "keyfile", "k", nil, "keyfile (repeatable)")
	backupCmd.Flags().BoolVar(&backupFlags.hidden, "hidden", false, "the volume contains a hidden volume")
	backupCmd.Flags().StringSliceVar(&backupFlags.hiddenKeyfiles, "hidden-keyfile", nil, "hidden volume keyfile (repeatable)")

	restoreCmd.Flags().StringSliceVarP(&restoreFlags.keyfiles, "keyfile", "k", nil, "keyfile (repeatable)")
	restoreCmd.Flags().StringVarP(&restoreFlags.file, "file", "f", "", "external backup file (default: internal backup)")

	rootCmd.AddCommand(changePasswordCmd, backupCmd, restoreCmd, keyfileCmd, selfTestCmd)
}
