package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kpelzel/sacnproxy/internal/lights"
)

var (
	scanTimeout time.Duration

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Scan for available BLE Devices",
		Long:  "Scan for available BLE Devices. Use the addresses found in the lights section of the config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if scanTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, scanTimeout)
				defer cancel()
			}
			return lights.Scan(ctx)
		},
	}
)

func init() {
	scanCmd.Flags().DurationVarP(&scanTimeout, "timeout", "t", 0, "stop scanning after this long (0 scans until interrupted)")
	RootCmd.AddCommand(scanCmd)
}
