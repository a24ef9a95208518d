package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	coreconfig "github.com/AzielCF/az-inbox/core/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// sweepCmd is the low-frequency invoker for deployments without a long-running
// service: each run claims the due batches, processes them and exits.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Process every debounced batch whose window has passed, then exit",
	Run:   runSweep,
}

func init() {
	sweepCmd.Flags().Duration("timeout", 2*time.Minute, "maximum time to wait for claimed batches to finish")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, coreconfig.Global, false)
	if err != nil {
		logrus.Fatalf("[APP] %v", err)
	}
	defer app.close()

	app.pool.Start(ctx)
	claimed, err := app.scheduler.Sweep(ctx)
	if err != nil {
		logrus.Errorf("[SWEEP] %v", err)
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := app.pool.WaitIdle(waitCtx); err != nil {
		logrus.Warnf("[SWEEP] stopped waiting for batches: %v", err)
	}
	logrus.Infof("[SWEEP] done, %d batch(es) claimed", claimed)
}
