package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tomasbasham/gcs-publish/internal/logging"
	"github.com/tomasbasham/gcs-publish/internal/publish"
	"github.com/tomasbasham/gcs-publish/internal/storage"
)

const (
	envPrefix         = "GCSPUB"
	defaultConfigName = "gcspub"
)

// StorageOptions holds the settings shared by every command that uploads:
// the destination bucket, credentials, object defaults, and logging. Values
// are resolved from flags, then GCSPUB_* environment variables, then the
// config file.
type StorageOptions struct {
	v *viper.Viper

	ConfigFile string
	DryRunDir  string
}

func NewStorageOptions() *StorageOptions {
	return &StorageOptions{v: viper.New()}
}

// flagKeys maps flag names onto configuration keys.
var flagKeys = map[string]string{
	"bucket":      "bucket",
	"project":     "project_id",
	"key-file":    "key_filename",
	"credentials": "credentials",
	"base":        "base",
	"public":      "public",
	"metadata":    "metadata",
	"log-level":   "log.level",
	"log-format":  "log.format",
}

// AddFlags registers the storage flags on flags.
func (o *StorageOptions) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.ConfigFile, "config", "", "Config file (default: ./gcspub.yaml when present)")
	flags.StringVar(&o.DryRunDir, "dry-run", "", "Write objects to this local directory instead of the bucket")

	flags.StringP("bucket", "b", "", "Destination bucket name (required)")
	flags.String("project", "", "Project ID owning the bucket (required)")
	flags.String("key-file", "", "Path to a service account key file")
	flags.String("credentials", "", "Inline service account key JSON")
	flags.String("base", "", "Prefix prepended to every object key")
	flags.Bool("public", false, "Upload objects with a public-read ACL")
	flags.StringToString("metadata", nil, "Extra object metadata as key=value pairs")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", logging.FormatConsole, "Log format (console, json)")
}

// Complete binds the flags and loads the config file.
func (o *StorageOptions) Complete(flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := o.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind flag %q: %w", name, err)
		}
	}

	o.v.SetEnvPrefix(envPrefix)
	o.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	o.v.AutomaticEnv()

	if o.ConfigFile != "" {
		o.v.SetConfigFile(o.ConfigFile)
	} else {
		o.v.SetConfigName(defaultConfigName)
		o.v.AddConfigPath(".")
	}

	if err := o.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.ConfigFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// PublishConfig decodes the resolved settings into a publish.Config. The
// result is not validated; publish.New does that.
func (o *StorageOptions) PublishConfig() (*publish.Config, error) {
	var cfg publish.Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.DecodeHookFuncType(jsonStringHook),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := o.v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &cfg, nil
}

// Logger builds the logger described by the log.* settings.
func (o *StorageOptions) Logger() (*zap.Logger, error) {
	return logging.New(o.v.GetString("log.level"), o.v.GetString("log.format"))
}

// Dialer returns the publish.Dialer for the configured destination. The
// opened bucket, if it needs closing, is stored in closer.
func (o *StorageOptions) Dialer(closer *io.Closer) publish.Dialer {
	return func(ctx context.Context, cfg publish.Config) (storage.Bucket, error) {
		if o.DryRunDir != "" {
			return storage.NewLocalBucket(o.DryRunDir)
		}

		creds := storage.Credentials{
			KeyFilename: cfg.KeyFilename,
			JSON:        []byte(cfg.Credentials),
		}
		bucket, err := storage.NewGCSBucket(ctx, cfg.Bucket, creds.ClientOptions()...)
		if err != nil {
			return nil, err
		}
		*closer = bucket
		return bucket, nil
	}
}

// objectURL formats where key was written for display.
func (o *StorageOptions) objectURL(bucket, key string) string {
	if o.DryRunDir != "" {
		return filepath.Join(o.DryRunDir, filepath.FromSlash(key))
	}
	return "gs://" + bucket + "/" + key
}

// jsonStringHook lets structured values, such as inline credentials written
// as a YAML mapping, decode into string fields as JSON.
func jsonStringHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String || from.Kind() != reflect.Map {
		return data, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %v as JSON: %w", from, err)
	}
	return string(b), nil
}
