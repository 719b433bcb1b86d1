package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ca-x/asset-syncer/internal/cdnizer"
	"github.com/ca-x/asset-syncer/internal/invalidate"
	"github.com/ca-x/asset-syncer/internal/plugin"
	"github.com/ca-x/asset-syncer/internal/rule"
	"github.com/ca-x/asset-syncer/internal/storage"
	"github.com/ca-x/asset-syncer/internal/upload"
	"github.com/spf13/viper"
)

type Config struct {
	Include   any      `mapstructure:"include"`
	Exclude   any      `mapstructure:"exclude"`
	Ignore    []string `mapstructure:"ignore"`
	Progress  bool     `mapstructure:"progress"`
	BasePath  string   `mapstructure:"base_path"`
	Directory string   `mapstructure:"directory"`
	// HTMLFiles is a single path or a list of paths.
	HTMLFiles   any   `mapstructure:"html_files"`
	Priority    []any `mapstructure:"priority"`
	Concurrency int   `mapstructure:"concurrency"`

	StorageType plugin.StorageType   `mapstructure:"storage_type"`
	S3Options   storage.S3Config     `mapstructure:"s3_options"`
	WebDAV      storage.WebDAVConfig `mapstructure:"webdav"`

	CDNizerOptions    cdnizer.Options    `mapstructure:"cdnizer_options"`
	S3UploadOptions   map[string]any     `mapstructure:"s3_upload_options"`
	InvalidateOptions InvalidateConfig   `mapstructure:"cloudfront_invalidate_options"`
	Logging           LoggingConfig      `mapstructure:"logging"`
	Notification      NotificationConfig `mapstructure:"notification"`
}

type InvalidateConfig struct {
	// DistributionID is a single ID or a list of IDs.
	DistributionID any      `mapstructure:"distribution_id"`
	Items          []string `mapstructure:"items"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type NotificationConfig struct {
	Email EmailConfig `mapstructure:"email"`
}

type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// To is a comma separated list of recipients.
	To string `mapstructure:"to"`
}

func (c EmailConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SMTPHost == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if c.From == "" || c.To == "" {
		return fmt.Errorf("sender and recipients are required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("progress", true)
	v.SetDefault("concurrency", upload.DefaultConcurrency)
	v.SetDefault("storage_type", string(plugin.StorageS3))
	v.SetDefault("logging.level", "info")
	v.SetDefault("notification.email.smtp_port", 587)
}

// Load reads the configuration file at path, or searches for assetsync.yaml in
// the working directory and ./config when path is empty. A missing search
// result is not an error. Environment variables prefixed with ASSETSYNC_
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("assetsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("assetsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &config, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	type section struct {
		key string
		cfg storage.Config
	}
	// s3_options also configure the CloudFront client, so they are checked
	// for every storage type.
	sections := []section{{"s3_options", c.S3Options}}
	switch c.StorageType {
	case "", plugin.StorageS3:
	case plugin.StorageWebDAV:
		sections = append(sections, section{"webdav", c.WebDAV})
	default:
		errs = append(errs, fmt.Errorf("storage_type: unsupported value %q", c.StorageType))
	}
	for _, s := range sections {
		if err := s.cfg.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.key, err))
		}
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency: must not be negative"))
	}
	if err := c.Notification.Email.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("notification.email: %w", err))
	}

	return errors.Join(errs...)
}

// PluginOptions converts the decoded file into plugin options. Rules,
// upload parameters and distribution IDs are parsed here so that mistakes
// surface before any build runs.
func (c *Config) PluginOptions() (plugin.Options, error) {
	opts := plugin.DefaultOptions()
	var errs []error

	include, err := rule.FromValue(c.Include)
	if err != nil {
		errs = append(errs, fmt.Errorf("include: %w", err))
	}
	exclude, err := rule.FromValue(c.Exclude)
	if err != nil {
		errs = append(errs, fmt.Errorf("exclude: %w", err))
	}

	priority := make([]rule.Rule, 0, len(c.Priority))
	for i, raw := range c.Priority {
		r, err := rule.FromValue(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("priority[%d]: %w", i, err))
			continue
		}
		if r == nil {
			errs = append(errs, fmt.Errorf("priority[%d]: %w: empty", i, rule.ErrInvalidRule))
			continue
		}
		priority = append(priority, r)
	}

	htmlFiles, err := stringList(c.HTMLFiles)
	if err != nil {
		errs = append(errs, fmt.Errorf("html_files: %w", err))
	}

	template, err := upload.NewTemplate(c.S3UploadOptions)
	if err != nil {
		errs = append(errs, fmt.Errorf("s3_upload_options: %w", err))
	}

	ids, err := invalidate.NormalizeIDs(c.InvalidateOptions.DistributionID)
	if err != nil {
		errs = append(errs, fmt.Errorf("cloudfront_invalidate_options: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return plugin.Options{}, err
	}

	opts.Directory = c.Directory
	opts.Include = include
	opts.Exclude = exclude
	opts.Ignore = c.Ignore
	opts.BasePath = c.BasePath
	opts.HTMLFiles = htmlFiles
	opts.Priority = priority
	opts.Progress = c.Progress
	opts.Concurrency = c.Concurrency
	opts.CDNizer = c.CDNizerOptions
	opts.UploadOptions = template
	opts.Invalidation = invalidate.Options{
		DistributionIDs: ids,
		Items:           c.InvalidateOptions.Items,
	}
	return opts, nil
}

// Connector returns the client factory for the configured storage target.
func (c *Config) Connector() plugin.Connector {
	return plugin.AWSConnector(c.StorageType, c.S3Options, c.WebDAV)
}

func stringList(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if val == "" {
			return nil, nil
		}
		return []string{val}, nil
	case []string:
		return val, nil
	case []any:
		out := make([]string, 0, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("item %d must be a string, got %T", i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("must be a string or a list of strings, got %T", v)
	}
}
