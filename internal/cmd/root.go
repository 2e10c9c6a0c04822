package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cliflag "github.com/tomasbasham/cli-runtime/flag"
	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/printer"
	"github.com/tomasbasham/cli-runtime/templates"
)

var (
	rootLong = templates.LongDesc(`
		Publish build output to a Google Cloud Storage bucket.

		Every file is uploaded under a key derived from its path relative to
		the source directory and an optional base prefix, with its content
		type taken from the file extension. Files ending in .gz are uploaded
		as-is with a gzip content encoding and the suffix removed from the
		key.`)

	rootExamples = templates.Examples(`
		# Upload the dist directory
		gcspub upload dist --bucket my-site --project my-project --key-file key.json

		# Serve the upload API
		gcspub serve --config gcspub.yaml`)

	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// PublishOptions defines the options for the `gcspub` command.
type PublishOptions struct {
	iooption.IOStreams
}

// NewPublishOptions provides an initialised PublishOptions instance.
func NewPublishOptions(streams iooption.IOStreams) *PublishOptions {
	return &PublishOptions{
		IOStreams: streams,
	}
}

// NewRootCommand creates the `gcspub` command with default arguments.
func NewRootCommand() *cobra.Command {
	options := NewPublishOptions(iooption.IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	})

	return NewRootCommandWithArgs(options)
}

// NewRootCommandWithArgs creates the `gcspub` command and its nested
// children.
func NewRootCommandWithArgs(o *PublishOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "gcspub [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "Publish files to a Google Cloud Storage bucket",
		Long:                  rootLong,
		Example:               rootExamples,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	printerOpts := printer.WarningPrinterOptions{Color: true}
	printer := printer.NewWarningPrinter(o.ErrOut, printerOpts)
	cmd.SetGlobalNormalizationFunc(cliflag.WarnWordSepNormalizeFunc(printer))

	cmd.AddCommand(NewUploadCommand(NewUploadOptions(o.IOStreams)))
	cmd.AddCommand(NewServeCommand(NewServeOptions(o.IOStreams)))

	// The global normalisation function ensures that all flags specified meet
	// the desired format, changing users' input if necessary.
	cmd.SetGlobalNormalizationFunc(cliflag.WordSepNormalizeFunc())

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}
