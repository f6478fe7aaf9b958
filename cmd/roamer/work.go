package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roamerhq/roamer/pkg/flags"
	"github.com/roamerhq/roamer/pkg/planner"
	"github.com/roamerhq/roamer/pkg/queue/redisq"
	"github.com/roamerhq/roamer/pkg/retrieval"
	"github.com/roamerhq/roamer/pkg/store"
	"github.com/roamerhq/roamer/pkg/worker"
)

type WorkFlags struct {
	DBFlags    *flags.PostgresFlags
	QueueFlags *flags.QueueFlags
	CacheFlags *flags.CacheFlags
	AIFlags    *flags.AIFlags

	MetricsAddr string
	Workers     int
	MaxAttempts int
	JobTimeout  time.Duration
	Backoff     time.Duration
}

func NewWorkFlags() *WorkFlags {
	defaults := worker.DefaultConfig()
	return &WorkFlags{
		DBFlags:     flags.NewPostgresDatabaseFlags(),
		QueueFlags:  flags.NewQueueFlags(),
		CacheFlags:  flags.NewCacheFlags(),
		AIFlags:     flags.NewAIFlags(),
		MetricsAddr: ":2113",
		Workers:     defaults.Workers,
		MaxAttempts: defaults.MaxAttempts,
		JobTimeout:  defaults.JobTimeout,
		Backoff:     defaults.Backoff,
	}
}

func (f *WorkFlags) BindFlags(flagSet *pflag.FlagSet) {
	f.DBFlags.BindFlags(flagSet)
	f.QueueFlags.BindFlags(flagSet)
	f.CacheFlags.BindFlags(flagSet)
	f.AIFlags.BindFlags(flagSet)

	flagSet.StringVar(&f.MetricsAddr, "listen-metrics", f.MetricsAddr, "The address to serve prometheus metrics on (default :2113)")
	flagSet.IntVar(&f.Workers, "workers", f.Workers, "Number of concurrent planning workers")
	flagSet.IntVar(&f.MaxAttempts, "max-attempts", f.MaxAttempts, "Maximum delivery and generation attempts per job")
	flagSet.DurationVar(&f.JobTimeout, "job-timeout", f.JobTimeout, "Per-job processing timeout")
	flagSet.DurationVar(&f.Backoff, "retry-backoff", f.Backoff, "Initial backoff between generation retries")
}

func NewWorkCommand() *cobra.Command {
	f := NewWorkFlags()

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run the planning worker daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.QueueFlags.Validate(); err != nil {
				return errors.WithMessage(err, "error validating options")
			}

			dbc, err := f.DBFlags.GetDBClient()
			if err != nil {
				return errors.WithMessage(err, "couldn't get DB client")
			}

			f.QueueFlags.MaxDeliver = f.MaxAttempts + 1
			jobQueue, err := f.QueueFlags.GetQueue(context.Background())
			if err != nil {
				return errors.WithMessage(err, "couldn't connect to job queue")
			}
			defer jobQueue.Close()

			cacheClient, err := f.CacheFlags.GetCacheClient()
			if err != nil {
				return errors.WithMessage(err, "couldn't get cache client")
			}

			var llm planner.LLM
			if client := f.AIFlags.GetLLMClient(); client != nil {
				llm = client
			} else {
				log.Info("no AI endpoint configured, using rule-based planning")
			}

			storeClient := store.New(dbc)
			processor := worker.NewProcessor(
				storeClient,
				jobQueue,
				retrieval.New(storeClient, cacheClient),
				planner.New(llm),
				worker.Config{
					Workers:     f.Workers,
					MaxAttempts: f.MaxAttempts,
					JobTimeout:  f.JobTimeout,
					Backoff:     f.Backoff,
				},
			)

			go func() {
				metricsMux := http.NewServeMux()
				metricsMux.Handle("/metrics", promhttp.Handler())
				if err := http.ListenAndServe(f.MetricsAddr, metricsMux); err != nil {
					log.WithError(err).Error("metrics server exited")
				}
			}()

			processes := []worker.DaemonProcess{processor}

			// The redis backend needs its reaper running beside the workers so
			// jobs claimed by a crashed worker get redelivered.
			if redisQueue, ok := jobQueue.(*redisq.Queue); ok {
				processes = append(processes, redisQueue)
			}

			worker.NewDaemonServer(processes...).Serve()
			return nil
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}
