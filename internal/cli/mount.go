package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"basalt/internal/core"
	"basalt/internal/volume"

	"github.com/spf13/cobra"
)

var mountFlags struct {
	keyfiles        []string
	readOnly        bool
	slot            int
	mountPoint      string
	fileShim        bool
	shimPort        int
	useBackupHeader bool
	protectHidden   bool
	timeoutSec      int
}

var mountCmd = &cobra.Command{
	Use:   "mount <volume>",
	Short: "Mount an encrypted volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := promptPassword("Password: ", false, len(mountFlags.keyfiles) > 0)
		if err != nil {
			return err
		}
		defer password.Close()

		shimPort := mountFlags.shimPort
		if shimPort == 0 {
			shimPort = cfg.ShimPort
		}

		opts := core.MountOptions{
			Path:               args[0],
			Password:           password,
			Keyfiles:           mountFlags.keyfiles,
			ReadOnly:           mountFlags.readOnly,
			PreserveTimestamps: true,
			UseBackupHeader:    mountFlags.useBackupHeader,
			Slot:               mountFlags.slot,
			MountPoint:         mountFlags.mountPoint,
			ShimPort:           shimPort,
			ClientTimeout:      time.Duration(mountFlags.timeoutSec) * time.Second,
		}
		if mountFlags.fileShim {
			opts.Shim = core.ShimFile
		}
		if mountFlags.protectHidden {
			pp, err := promptPassword("Hidden volume password: ", false, true)
			if err != nil {
				return err
			}
			defer pp.Close()
			opts.Protection = volume.ProtectionHiddenVolume
			opts.ProtectionPassword = pp
		}

		info, err := appCore.Mount(opts)
		if err != nil {
			return err
		}

		fmt.Printf("Mounted slot %d: %s (%s, %s/%s) at %s\n",
			info.Slot, info.Path, info.KdfName, info.EncryptionName, info.ModeName, info.VirtualDevice)

		// The shim serves in the foreground; backgrounding is the
		// caller's job. Ctrl-C dismounts cleanly.
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nDismounting...")
		_, err = appCore.Dismount(info.Slot, true)
		return err
	},
}

func init() {
	f := mountCmd.Flags()
	f.StringSliceVarP(&mountFlags.keyfiles, "keyfile", "k", nil, "keyfile path (repeatable, order matters)")
	f.BoolVarP(&mountFlags.readOnly, "read-only", "r", false, "mount read-only")
	f.IntVar(&mountFlags.slot, "slot", 0, "mount slot (0 = first free)")
	f.StringVarP(&mountFlags.mountPoint, "mount-point", "m", "", "host mount point to record")
	f.BoolVar(&mountFlags.fileShim, "file-shim", false, "serve a WebDAV file instead of an NBD target")
	f.IntVar(&mountFlags.shimPort, "port", 0, "loopback shim port (0 = automatic)")
	f.BoolVar(&mountFlags.useBackupHeader, "backup-header", false, "unlock via the embedded backup header")
	f.BoolVarP(&mountFlags.protectHidden, "protect-hidden", "p", false, "protect an inner hidden volume against outer writes")
	f.IntVar(&mountFlags.timeoutSec, "client-timeout", 0, "seconds to wait for the host client handshake (0 = don't wait)")
	rootCmd.AddCommand(mountCmd)
}
