package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"basalt/internal/creator"
	"basalt/internal/util"

	"github.com/spf13/cobra"
)

var createFlags struct {
	size     string
	hidden   bool
	cascade  string
	kdfName  string
	keyfiles []string
	quick    bool
}

var createCmd = &cobra.Command{
	Use:   "create <volume>",
	Short: "Create a new encrypted volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := parseSize(createFlags.size)
		if err != nil {
			return err
		}

		password, err := promptPassword("Password: ", true, len(createFlags.keyfiles) > 0)
		if err != nil {
			return err
		}
		defer password.Close()

		cascade := createFlags.cascade
		if cascade == "" {
			cascade = cfg.DefaultCascade
		}
		kdfName := createFlags.kdfName
		if kdfName == "" {
			kdfName = cfg.DefaultKdf
		}

		opts := creator.Options{
			Path:     args[0],
			Size:     size,
			Hidden:   createFlags.hidden,
			Cascade:  cascade,
			Kdf:      kdfName,
			Password: password,
			Keyfiles: createFlags.keyfiles,
			Quick:    createFlags.quick,
		}

		if err := appCore.CreateVolume(opts); err != nil {
			return err
		}

		// Ctrl-C aborts cooperatively; the creator stops at the next
		// chunk boundary.
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		go func() {
			<-sigChan
			fmt.Fprintln(os.Stderr, "\nAborting...")
			appCore.AbortCreation()
		}()

		start := time.Now()
		for {
			p := appCore.GetCreationProgress()
			if !p.InProgress {
				fmt.Fprintln(os.Stderr)
				if p.Err != nil {
					return p.Err
				}
				fmt.Printf("Created %s (%s, %s, %s)\n", args[0], util.Sizeify(size), cascade, kdfName)
				return nil
			}
			if p.TotalBytes > 0 {
				progress, speed, eta := util.FillProgress(p.BytesDone, p.TotalBytes, start)
				fmt.Fprintf(os.Stderr, "\rFilling: %5.1f%%  %6.1f MiB/s  ETA %s ", progress*100, speed, eta)
			}
			time.Sleep(200 * time.Millisecond)
		}
	},
}

// parseSize accepts "10M", "1G", "512K", or raw bytes.
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("--size is required")
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = util.KiB
		s = s[:len(s)-1]
	case 'M', 'm':
		mult = util.MiB
		s = s[:len(s)-1]
	case 'G', 'g':
		mult = util.GiB
		s = s[:len(s)-1]
	case 'T', 't':
		mult = util.TiB
		s = s[:len(s)-1]
	}
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}

func init() {
	f := createCmd.Flags()
	f.StringVarP(&createFlags.size, "size", "s", "", "volume size, e.g. 100M or 2G (for --hidden: the inner data size)")
	f.BoolVar(&createFlags.hidden, "hidden", false, "create a hidden volume inside an existing outer volume")
	f.StringVarP(&createFlags.cascade, "cipher", "c", "", "cipher cascade (default from config)")
	f.StringVar(&createFlags.kdfName, "kdf", "", "key derivation function (default from config)")
	f.StringSliceVarP(&createFlags.keyfiles, "keyfile", "k", nil, "keyfile path (repeatable, order matters)")
	f.BoolVarP(&createFlags.quick, "quick", "q", false, "skip the random body fill")
	createCmd.MarkFlagRequired("size")
	rootCmd.AddCommand(createCmd)
}
