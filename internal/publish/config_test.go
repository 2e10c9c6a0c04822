package publish

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomasbasham/gcs-publish/internal/storage"
)

func validConfig() *Config {
	return &Config{
		Bucket:      "b",
		ProjectID:   "p",
		KeyFilename: "/k.json",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		field   string
		pattern string
	}{
		{
			name:    "missing configuration",
			cfg:     nil,
			field:   "",
			pattern: `Missing configuration object`,
		},
		{
			name:    "missing bucket",
			cfg:     &Config{ProjectID: "p", KeyFilename: "/k.json"},
			field:   "bucket",
			pattern: `Bucket name must be specified`,
		},
		{
			name:    "missing credentials",
			cfg:     &Config{Bucket: "b", ProjectID: "p"},
			field:   "credentials",
			pattern: `credentials must be specified`,
		},
		{
			name:    "both credentials",
			cfg:     &Config{Bucket: "b", ProjectID: "p", KeyFilename: "/k.json", Credentials: `{}`},
			field:   "credentials",
			pattern: `only one of key_filename or credentials`,
		},
		{
			name:    "missing project",
			cfg:     &Config{Bucket: "b", KeyFilename: "/k.json"},
			field:   "project_id",
			pattern: `projectId must be specified`,
		},
		{
			name:    "bucket is checked first",
			cfg:     &Config{},
			field:   "bucket",
			pattern: `Bucket name must be specified`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Regexp(t, tt.pattern, err.Error())

			var cerr *ConfigurationError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.field, cerr.Field)
			assert.True(t, cerr.ShowStack)
		})
	}
}

func TestConfig_ValidateAccepts(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	inline := &Config{Bucket: "b", ProjectID: "p", Credentials: `{"type":"service_account"}`}
	assert.NoError(t, inline.Validate())
}

func TestConfigurationError_FormatIncludesStack(t *testing.T) {
	err := (&Config{}).Validate()
	require.Error(t, err)

	plain := fmt.Sprintf("%v", err)
	assert.Equal(t, "publish: Bucket name must be specified via bucket", plain)

	verbose := fmt.Sprintf("%+v", err)
	assert.Contains(t, verbose, "Bucket name must be specified via bucket")
	assert.Contains(t, verbose, "newConfigurationError")
}

func TestNew_InvalidConfigDoesNotDial(t *testing.T) {
	dialled := false
	dial := func(context.Context, Config) (storage.Bucket, error) {
		dialled = true
		return newFakeBucket(), nil
	}

	_, err := New(context.Background(), &Config{Bucket: "b", KeyFilename: "/k.json"}, dial)
	assert.Regexp(t, `projectId must be specified`, err.Error())
	assert.False(t, dialled)

	_, err = New(context.Background(), nil, dial)
	assert.Regexp(t, `Missing configuration object`, err.Error())
	assert.False(t, dialled)
}

func TestNew_DialError(t *testing.T) {
	dial := func(context.Context, Config) (storage.Bucket, error) {
		return nil, errors.New("no network")
	}

	_, err := New(context.Background(), validConfig(), dial)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no network")

	var cerr *ConfigurationError
	assert.False(t, errors.As(err, &cerr))
}

func TestNew_ConfigIsCopied(t *testing.T) {
	cfg := validConfig()
	cfg.Metadata = map[string]string{"build": "1"}

	tr, err := New(context.Background(), cfg, staticDialer(newFakeBucket()))
	require.NoError(t, err)

	cfg.Base = "mutated"
	cfg.Metadata["build"] = "2"

	dest := tr.Destination(&FileItem{Path: "file.css"})
	assert.Equal(t, "file.css", dest.Key)
	assert.Equal(t, "1", dest.Metadata["build"])
}
