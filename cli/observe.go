package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkgsignal.dev/analyzer/adminsrv"
	"pkgsignal.dev/analyzer/common"
	"pkgsignal.dev/analyzer/version"
)

var observeDefaultSeq string

var observeCmd = &cobra.Command{
	Use:   "observe",
	Short: "Run the CDC follower and the periodic staleness sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := newServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		if observeDefaultSeq != "" {
			svc.realtim.Config.DefaultSeq = observeDefaultSeq
		}

		admin := adminsrv.New(adminsrv.Config{Port: svc.cfg.AdminPort, RateLimit: svc.cfg.AdminRateLimit},
			"analyzer-observe", version.GetModuleVersion(), svc.statsSnapshot)
		go func() {
			if err := admin.Start(); err != nil {
				common.Logger.WithError(err).Error("observe: admin server stopped")
			}
		}()

		runLoop := func(name string, run func(context.Context) error) {
			if err := run(ctx); err != nil && ctx.Err() == nil {
				common.Logger.WithError(err).Errorf("observe: %s loop stopped", name)
			}
		}
		go runLoop("realtime", svc.realtim.Run)
		go runLoop("stale", svc.stale.Run)
		go runLoop("aggregator", svc.aggr.Run)

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = admin.Shutdown(shutdownCtx)
		return nil
	},
}

func init() {
	observeCmd.Flags().StringVar(&observeDefaultSeq, "default-seq", "",
		"CDC sequence to start from when no checkpoint exists yet")
}
