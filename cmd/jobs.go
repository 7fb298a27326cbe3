package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-checkout/app/service"
	"github.com/vibast-solutions/ms-go-checkout/config"
)

var (
	workerMode bool
)

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Run expiration-related commands",
}

var expirePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Mark orders left pending past the configured timeout as expired",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"expire_pending",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ExpirePendingInterval },
			func(s *service.JobService, ctx context.Context) error {
				return s.RunExpirePendingBatch(ctx)
			},
		)
	},
}

var activationsCmd = &cobra.Command{
	Use:   "activations",
	Short: "Run service activation hand-off commands",
}

var activationsDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Deliver settled payments to the activation service",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"activations_dispatch",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ActivationDispatchInterval },
			func(s *service.JobService, ctx context.Context) error {
				return s.RunDispatchActivationsBatch(ctx)
			},
		)
	},
}

func init() {
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(activationsCmd)
	expireCmd.AddCommand(expirePendingCmd)
	activationsCmd.AddCommand(activationsDispatchCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func runCommand(
	name string,
	intervalResolver func(cfg *config.Config) time.Duration,
	fn func(s *service.JobService, ctx context.Context) error,
) {
	cfg, jobService, cleanup := mustCreateJobService()
	defer cleanup()

	if workerMode {
		runWorker(name, intervalResolver(cfg), jobService, fn)
		return
	}

	ctx := context.Background()
	runJob(name, func() error { return fn(jobService, ctx) })
}

func runWorker(
	name string,
	interval time.Duration,
	jobService *service.JobService,
	fn func(s *service.JobService, ctx context.Context) error,
) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	// SIGINT/SIGTERM cancel the batch in flight as well as the loop.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logrus.WithField("job", name).WithField("interval", interval.String()).Info("Worker started")
	runJob(name, func() error { return fn(jobService, ctx) })

	for {
		select {
		case <-ctx.Done():
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() error { return fn(jobService, ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
