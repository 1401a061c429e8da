package cli

import (
	"fmt"
	"strconv"

	"basalt/internal/util"

	"github.com/spf13/cobra"
)

var dismountForce bool

var dismountCmd = &cobra.Command{
	Use:   "dismount [slot]",
	Short: "Dismount a volume (or all volumes)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return appCore.DismountAll(dismountForce)
		}

		slot, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid slot %q", args[0])
		}
		info, err := appCore.Dismount(slot, dismountForce)
		if err != nil {
			return err
		}
		fmt.Printf("Dismounted slot %d: %s\n", info.Slot, info.Path)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List mounted volumes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		infos := appCore.GetMountedVolumes()
		if len(infos) == 0 {
			fmt.Println("No volumes mounted")
			return nil
		}
		for _, info := range infos {
			flags := ""
			if info.ReadOnly {
				flags += " ro"
			}
			if info.HiddenProtection {
				flags += " protected"
			}
			if info.HiddenVolumeProtectionTriggered {
				flags += " TRIGGERED"
			}
			fmt.Printf("%2d  %-40s %8s  %s  %s/%s%s\n",
				info.Slot, info.Path, util.Sizeify(info.Size),
				info.KdfName, info.EncryptionName, info.ModeName, flags)
		}
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List host block devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := appCore.GetHostDevices(false)
		if err != nil {
			return err
		}
		for _, d := range devices {
			removable := ""
			if d.Removable {
				removable = " removable"
			}
			fmt.Printf("%-20s %10s%s\n", d.Path, util.Sizeify(d.Size), removable)
		}
		return nil
	},
}

func init() {
	dismountCmd.Flags().BoolVarP(&dismountForce, "force", "f", false, "force-disconnect the host client before dismounting")
	rootCmd.AddCommand(dismountCmd, listCmd, devicesCmd)
}
