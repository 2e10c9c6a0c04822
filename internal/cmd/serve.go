package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/gcs-publish/internal/logging"
	"github.com/tomasbasham/gcs-publish/internal/metrics"
	"github.com/tomasbasham/gcs-publish/internal/operation"
	"github.com/tomasbasham/gcs-publish/internal/publish"
	"github.com/tomasbasham/gcs-publish/internal/server"
)

type ServeOptions struct {
	*StorageOptions

	Port int

	iooption.IOStreams
}

var (
	serveLong = templates.LongDesc(`Start the publish HTTP server.`)

	serveExample = templates.Examples(`
		# Start on the default port
		gcspub serve --bucket my-site --project my-project --key-file key.json

		# Start on a custom port with settings from a config file
		gcspub serve --port 9090 --config gcspub.yaml`)
)

func NewServeOptions(streams iooption.IOStreams) *ServeOptions {
	return &ServeOptions{
		StorageOptions: NewStorageOptions(),
		IOStreams:      streams,
	}
}

func NewServeCommand(o *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the publish HTTP server",
		Long:    serveLong,
		Example: serveExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			if err := o.Run(cmd.Context()); err != nil {
				return err
			}
			return nil
		},
	}

	o.StorageOptions.AddFlags(cmd.Flags())
	cmd.Flags().IntVarP(&o.Port, "port", "p", 8080, "Port to listen on")

	return cmd
}

func (o *ServeOptions) Complete(cmd *cobra.Command, args []string) error {
	return o.StorageOptions.Complete(cmd.Flags())
}

func (o *ServeOptions) Validate() error {
	if o.Port < 0 || o.Port > 65535 {
		return fmt.Errorf("invalid port %d", o.Port)
	}
	return nil
}

func (o *ServeOptions) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := o.Logger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := o.PublishConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var closer io.Closer
	transform, err := publish.New(ctx, cfg, o.Dialer(&closer),
		publish.WithObserver(publish.Observers{
			logging.NewObserver(logger, cfg.Bucket),
			metrics.New(reg),
		}))
	if err != nil {
		return reportConfigurationError(o.ErrOut, err)
	}
	if closer != nil {
		defer closer.Close()
	}

	srv := server.New(operation.NewMemoryStore(), transform, logger, reg)

	addr := fmt.Sprintf(":%d", o.Port)
	logger.Info("Starting publish server", zap.String("addr", addr), zap.String("bucket", cfg.Bucket))
	return srv.ListenAndServe(ctx, addr)
}
