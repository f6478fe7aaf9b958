package main

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roamerhq/roamer/pkg/flags"
	"github.com/roamerhq/roamer/pkg/gateway"
	"github.com/roamerhq/roamer/pkg/store"
)

type ServerFlags struct {
	DBFlags    *flags.PostgresFlags
	QueueFlags *flags.QueueFlags

	ListenAddr   string
	MetricsAddr  string
	InitDatabase bool
}

func NewServerFlags() *ServerFlags {
	return &ServerFlags{
		DBFlags:     flags.NewPostgresDatabaseFlags(),
		QueueFlags:  flags.NewQueueFlags(),
		ListenAddr:  ":8080",
		MetricsAddr: ":2112",
	}
}

func (f *ServerFlags) BindFlags(flagSet *pflag.FlagSet) {
	f.DBFlags.BindFlags(flagSet)
	f.QueueFlags.BindFlags(flagSet)

	flagSet.StringVar(&f.ListenAddr, "listen", f.ListenAddr, "The address to serve the API on (default :8080)")
	flagSet.StringVar(&f.MetricsAddr, "listen-metrics", f.MetricsAddr, "The address to serve prometheus metrics on (default :2112)")
	flagSet.BoolVar(&f.InitDatabase, "init-database", false, "Migrate the DB schema before serving")
}

func NewServeCommand() *cobra.Command {
	f := NewServerFlags()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the intake gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.QueueFlags.Validate(); err != nil {
				return errors.WithMessage(err, "error validating options")
			}

			dbc, err := f.DBFlags.GetDBClient()
			if err != nil {
				return errors.WithMessage(err, "couldn't get DB client")
			}
			if f.InitDatabase {
				if err := dbc.UpdateSchema(); err != nil {
					return errors.WithMessage(err, "couldn't migrate DB schema")
				}
			}

			jobQueue, err := f.QueueFlags.GetQueue(context.Background())
			if err != nil {
				return errors.WithMessage(err, "couldn't connect to job queue")
			}
			defer jobQueue.Close()

			// Serve prometheus metrics separately from the API.
			go func() {
				metricsMux := http.NewServeMux()
				metricsMux.Handle("/metrics", promhttp.Handler())
				if err := http.ListenAndServe(f.MetricsAddr, metricsMux); err != nil {
					log.WithError(err).Error("metrics server exited")
				}
			}()

			server := gateway.NewServer(f.ListenAddr, store.New(dbc), jobQueue)
			return server.Serve()
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}
