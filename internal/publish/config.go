package publish

import (
	"fmt"
	"maps"

	"github.com/pkg/errors"
)

// PathTransformer computes the destination object key for an item, replacing
// the default base-plus-relative-path normalisation entirely.
type PathTransformer func(item *FileItem) string

// Config is the static configuration of a Transform.
type Config struct {
	// Bucket is the name of the destination bucket. Required.
	Bucket string `mapstructure:"bucket"`

	// ProjectID is the cloud project owning the bucket. Required.
	ProjectID string `mapstructure:"project_id"`

	// KeyFilename is the path to a service account key file. Exactly one of
	// KeyFilename and Credentials must be set.
	KeyFilename string `mapstructure:"key_filename"`

	// Credentials is an inline service account key.
	Credentials string `mapstructure:"credentials"`

	// Base is prefixed to every object key.
	Base string `mapstructure:"base"`

	// Public uploads every object with a public-read ACL.
	Public bool `mapstructure:"public"`

	// Metadata is merged into the metadata of every object.
	Metadata map[string]string `mapstructure:"metadata"`

	// Transformer, when set, computes object keys instead of Base.
	Transformer PathTransformer `mapstructure:"-"`
}

// ConfigurationError reports a missing or contradictory configuration field.
// It is returned before any upload is attempted.
type ConfigurationError struct {
	// Field is the configuration key at fault, empty when the whole
	// configuration is missing.
	Field string

	// Message describes the problem.
	Message string

	// ShowStack asks the caller to print the stack trace along with the
	// message.
	ShowStack bool

	stack error
}

func newConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{
		Field:     field,
		Message:   message,
		ShowStack: true,
		stack:     errors.New(message),
	}
}

func (e *ConfigurationError) Error() string {
	return "publish: " + e.Message
}

// Format prints the captured stack trace for %+v when ShowStack is set.
func (e *ConfigurationError) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') && e.ShowStack && e.stack != nil {
		fmt.Fprintf(s, "publish: %+v", e.stack)
		return
	}
	fmt.Fprint(s, e.Error())
}

// Validate checks the required connection fields, stopping at the first
// violation.
func (c *Config) Validate() error {
	if c == nil {
		return newConfigurationError("", "Missing configuration object")
	}
	if c.Bucket == "" {
		return newConfigurationError("bucket", "Bucket name must be specified via bucket")
	}
	if c.KeyFilename == "" && c.Credentials == "" {
		return newConfigurationError("credentials", "Keyfile or credentials must be specified via key_filename or credentials")
	}
	if c.KeyFilename != "" && c.Credentials != "" {
		return newConfigurationError("credentials", "only one of key_filename or credentials may be specified")
	}
	if c.ProjectID == "" {
		return newConfigurationError("project_id", "projectId must be specified via project_id")
	}
	return nil
}

// clone returns a copy that shares no mutable state with c.
func (c *Config) clone() Config {
	cp := *c
	cp.Metadata = maps.Clone(c.Metadata)
	return cp
}
