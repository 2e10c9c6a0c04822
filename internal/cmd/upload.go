package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/gcs-publish/internal/logging"
	"github.com/tomasbasham/gcs-publish/internal/publish"
	"github.com/tomasbasham/gcs-publish/internal/source"
)

type UploadOptions struct {
	*StorageOptions

	Dir     string
	Include []string
	Exclude []string
	Stream  bool

	iooption.IOStreams
}

var (
	uploadLong = templates.LongDesc(`
		Upload every file under DIR to the configured bucket.

		Files are uploaded one at a time as the directory is walked. A failed
		upload is reported and the remaining files are still uploaded; the
		command exits non-zero if any file failed.`)

	uploadExample = templates.Examples(`
		# Upload the current directory under the assets/ prefix
		gcspub upload --bucket my-site --project my-project --key-file key.json --base assets

		# Upload only stylesheets, publicly readable, with a cache policy
		gcspub upload dist --include '**/*.css' --public --metadata cacheControl=no-cache

		# Preview the objects in a local directory
		gcspub upload dist --dry-run ./out`)
)

func NewUploadOptions(streams iooption.IOStreams) *UploadOptions {
	return &UploadOptions{
		StorageOptions: NewStorageOptions(),
		IOStreams:      streams,
	}
}

func NewUploadCommand(o *UploadOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "upload [DIR]",
		DisableFlagsInUseLine: true,
		Short:                 "Upload a directory to the bucket",
		Long:                  uploadLong,
		Example:               uploadExample,
		Args:                  cobra.MaximumNArgs(1),
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

	flags := cmd.Flags()
	o.StorageOptions.AddFlags(flags)
	flags.StringSliceVar(&o.Include, "include", nil, "Glob patterns of files to upload (default: all files)")
	flags.StringSliceVar(&o.Exclude, "exclude", nil, "Glob patterns of files to skip")
	flags.BoolVar(&o.Stream, "stream", false, "Stream file contents instead of reading each file into memory")

	return cmd
}

func (o *UploadOptions) Complete(cmd *cobra.Command, args []string) error {
	o.Dir = "."
	if len(args) > 0 {
		o.Dir = args[0]
	}
	return o.StorageOptions.Complete(cmd.Flags())
}

func (o *UploadOptions) Validate() error {
	if len(o.Dir) == 0 {
		return fmt.Errorf("DIR is required")
	}
	return nil
}

func (o *UploadOptions) Run(ctx context.Context) error {
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

	var closer io.Closer
	transform, err := publish.New(ctx, cfg, o.Dialer(&closer),
		publish.WithObserver(logging.NewObserver(logger, cfg.Bucket)))
	if err != nil {
		return reportConfigurationError(o.ErrOut, err)
	}
	if closer != nil {
		defer closer.Close()
	}

	walker, err := source.Open(o.Dir, source.Options{
		Include: o.Include,
		Exclude: o.Exclude,
		Stream:  o.Stream,
	})
	if err != nil {
		return err
	}

	logger.Debug("Uploading directory",
		zap.String("dir", walker.Root()),
		zap.String("bucket", cfg.Bucket),
		zap.String("base", cfg.Base),
		zap.Bool("public", cfg.Public))

	g, gctx := errgroup.WithContext(ctx)
	items := make(chan *publish.FileItem)

	g.Go(func() error {
		defer close(items)
		return walker.Items(gctx, items)
	})

	var uploaded, failed int
	g.Go(func() error {
		for outcome := range transform.Run(gctx, items) {
			switch {
			case outcome.Err != nil:
				failed++
			case outcome.Item != nil:
				uploaded++
				fmt.Fprintf(o.Out, "Uploaded %s\n", o.objectURL(cfg.Bucket, outcome.Key))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("upload interrupted: %w", err)
	}

	fmt.Fprintf(o.Out, "Uploaded %d files (%d failed)\n", uploaded, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to upload", failed, uploaded+failed)
	}
	return nil
}

// reportConfigurationError prints the stack trace of a configuration error
// that asks for one. err is returned unchanged.
func reportConfigurationError(w io.Writer, err error) error {
	var cerr *publish.ConfigurationError
	if errors.As(err, &cerr) && cerr.ShowStack {
		fmt.Fprintf(w, "%+v\n", cerr)
	}
	return err
}
