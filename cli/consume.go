// consume.go wires the queue.Consumer worker pool to analysis.Engine, the
// daemon half of spec §4.8/§4.6. Adapted in spirit from the teacher's
// cli/consumer.go StartConsuming loop, but over this pipeline's own
// Message/AnalysisDoc types instead of ProcessMessage/ProcessDocument.
package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkgsignal.dev/analyzer/adminsrv"
	"pkgsignal.dev/analyzer/common"
	"pkgsignal.dev/analyzer/errkind"
	"pkgsignal.dev/analyzer/queue"
	"pkgsignal.dev/analyzer/version"
)

var consumeConcurrency int

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run the queue consumer worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := newServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		concurrency := consumeConcurrency
		if concurrency <= 0 {
			concurrency = svc.cfg.ConsumerConcurrency
		}

		consumer, err := queue.NewConsumer(
			queue.Config{URL: svc.cfg.BrokerURL, QueueName: svc.cfg.QueueName},
			queue.ConsumerConfig{
				Concurrency: concurrency,
				MaxRetries:  svc.cfg.ConsumerMaxRetries,
				OnRetriesExceeded: func(msg queue.Message, err error) {
					common.Logger.WithError(err).WithField("package", msg.Name).
						Error("consume: message dropped after exhausting retries")
					if svc.stat != nil {
						_ = svc.stat.Settled(ctx)
					}
				},
			},
		)
		if err != nil {
			return err
		}
		defer consumer.Close()

		admin := adminsrv.New(adminsrv.Config{Port: svc.cfg.AdminPort, RateLimit: svc.cfg.AdminRateLimit},
			"analyzer-consume", version.GetModuleVersion(), svc.statsSnapshot)
		go func() {
			if err := admin.Start(); err != nil {
				common.Logger.WithError(err).Error("consume: admin server stopped")
			}
		}()

		runErr := make(chan error, 1)
		go func() {
			runErr <- consumer.Run(ctx, func(ctx context.Context, msg queue.Message) error {
				return handleMessage(ctx, svc, msg)
			})
		}()

		select {
		case <-ctx.Done():
		case err := <-runErr:
			if err != nil {
				common.Logger.WithError(err).Error("consume: worker pool stopped with error")
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = admin.Shutdown(shutdownCtx)
		return nil
	},
}

// handleMessage applies the idempotency check of spec §8 before running
// a full analysis, then re-scores on success.
func handleMessage(ctx context.Context, svc *services, msg queue.Message) error {
	settle := func() {
		if svc.stat != nil {
			_ = svc.stat.Settled(ctx)
		}
	}

	existing, _ := svc.store.GetAnalysisDoc(ctx, msg.Name)
	if shouldSkipAnalysis(existing, msg.PushedAt) {
		common.Logger.WithField("package", msg.Name).Debug("consume: skipping, already analyzed after this push")
		settle()
		return nil
	}

	doc, err := svc.engine.Analyze(ctx, msg.Name)
	if err != nil {
		if errkind.Of(err).Unrecoverable() {
			// Already persisted as a failed AnalysisDoc by Engine.Analyze;
			// requeuing would just reproduce the same unrecoverable outcome.
			settle()
			return nil
		}
		return err // transient: still pending, consumer will retry/republish
	}
	if doc == nil {
		settle() // blacklisted, nothing to score
		return nil
	}
	if doc.Evaluation == nil {
		settle() // persisted failure, nothing to score
		return nil
	}

	if _, err := svc.scorer.Score(ctx, doc); err != nil {
		common.Logger.WithError(err).WithField("package", msg.Name).Warn("consume: scoring failed")
	}
	settle()
	return nil
}

func init() {
	consumeCmd.Flags().IntVar(&consumeConcurrency, "concurrency", 0,
		"number of analyses to run in parallel (0 uses the configured default)")
}
