// Package config resolves the settings of a load run. Values are layered:
// defaults, then an optional YAML file, then a .env file, then CSVLOAD_*
// environment variables, and finally command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"csvloader/internal/apperrors"
)

// DefaultEndpoint is the search engine address used when none is configured.
const DefaultEndpoint = "http://localhost:9200"

// Config is the full configuration of one load run.
type Config struct {
	Index   IndexConfig   `yaml:"index"`
	Source  SourceConfig  `yaml:"source"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Journal JournalConfig `yaml:"journal"`

	// ShowVersion is set by --version; main prints the version and exits.
	ShowVersion bool `yaml:"-"`
}

// IndexConfig names the target index and how to reach it.
type IndexConfig struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// An empty username or password is valid once given explicitly, by a
	// flag or a set environment variable.
	usernameSet bool
	passwordSet bool
}

// SourceConfig describes the CSV input.
type SourceConfig struct {
	FilePath  string `yaml:"filePath"`
	Delimiter string `yaml:"delimiter"`
	Strict    bool   `yaml:"strict"`
	AWSRegion string `yaml:"awsRegion"`

	// Static keys for s3:// sources; the default AWS credential chain is
	// used when either is empty.
	AWSAccessKey string `yaml:"awsAccessKey"`
	AWSSecretKey string `yaml:"awsSecretKey"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig points at an optional Prometheus Pushgateway.
type MetricsConfig struct {
	Pushgateway string `yaml:"pushgateway"`
}

// JournalConfig holds the optional run journal DSN: a sqlite file path or a
// postgres:// URL.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// Comma returns the delimiter rune. Validate must have succeeded.
func (s SourceConfig) Comma() rune {
	switch s.Delimiter {
	case `\t`, "tab":
		return '\t'
	}
	r, _ := utf8.DecodeRuneInString(s.Delimiter)
	return r
}

func defaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			Endpoint: DefaultEndpoint,
		},
		Source: SourceConfig{
			Delimiter: ",",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

type flagValues struct {
	configPath string
	envFile    string
	cfg        Config
}

func newFlagSet(out io.Writer, v *flagValues) *pflag.FlagSet {
	flags := pflag.NewFlagSet("loadData", pflag.ContinueOnError)
	flags.SetOutput(out)
	flags.SortFlags = false

	flags.StringVarP(&v.cfg.Index.Name, "index-name", "i", "", "name of the index to create [REQUIRED]")
	flags.StringVarP(&v.cfg.Source.FilePath, "file-path", "f", "", "path to the CSV file, or s3://bucket/key [REQUIRED]")
	flags.StringVarP(&v.cfg.Index.Username, "username", "u", "", "username for basic authentication [REQUIRED]")
	flags.StringVarP(&v.cfg.Index.Password, "password", "p", "", "password for basic authentication [REQUIRED]")
	flags.StringVarP(&v.cfg.Index.Endpoint, "endpoint", "e", DefaultEndpoint, "search engine base URL")
	flags.StringVarP(&v.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&v.envFile, "env-file", ".env", "dotenv file to load if present")
	flags.StringVar(&v.cfg.Source.Delimiter, "delimiter", ",", `field delimiter (single character, or \t)`)
	flags.BoolVar(&v.cfg.Source.Strict, "strict", false, "fail on rows whose field count differs from the header")
	flags.StringVar(&v.cfg.Source.AWSRegion, "aws-region", "", "AWS region for s3:// sources")
	flags.StringVar(&v.cfg.Logging.Level, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&v.cfg.Logging.Format, "log-format", "text", "log format (text, json)")
	flags.StringVar(&v.cfg.Journal.DSN, "journal", "", "record the run in a sqlite file or postgres:// database")
	flags.StringVar(&v.cfg.Metrics.Pushgateway, "pushgateway", "", "Prometheus Pushgateway URL to push run metrics to")
	flags.BoolVarP(&v.cfg.ShowVersion, "version", "V", false, "print version and exit")
	return flags
}

// Load parses args (without the program name) and resolves the layered
// configuration. pflag.ErrHelp is returned unchanged when -h was given.
func Load(args []string, out io.Writer) (*Config, error) {
	var v flagValues
	flags := newFlagSet(out, &v)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrConfig, err, "parsing flags")
	}
	if flags.NArg() > 0 {
		return nil, apperrors.Newf(apperrors.ErrConfig, "unexpected arguments: %s", strings.Join(flags.Args(), " "))
	}

	cfg := defaultConfig()
	if v.configPath != "" {
		if err := loadFile(v.configPath, cfg); err != nil {
			return nil, err
		}
	}
	if v.envFile != "" {
		if err := godotenv.Load(v.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.Wrap(apperrors.ErrConfig, err, "loading "+v.envFile)
		}
	}
	applyEnvOverrides(cfg)
	applyFlags(flags, &v.cfg, cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, err, "reading config file "+path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, err, "parsing config file "+path)
	}
	return nil
}

// applyEnvOverrides reads CSVLOAD_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CSVLOAD_INDEX_NAME"); v != "" {
		cfg.Index.Name = v
	}
	if v := os.Getenv("CSVLOAD_ENDPOINT"); v != "" {
		cfg.Index.Endpoint = v
	}
	if v, ok := os.LookupEnv("CSVLOAD_USERNAME"); ok {
		cfg.Index.Username = v
		cfg.Index.usernameSet = true
	}
	if v, ok := os.LookupEnv("CSVLOAD_PASSWORD"); ok {
		cfg.Index.Password = v
		cfg.Index.passwordSet = true
	}
	if v := os.Getenv("CSVLOAD_FILE_PATH"); v != "" {
		cfg.Source.FilePath = v
	}
	if v := os.Getenv("CSVLOAD_DELIMITER"); v != "" {
		cfg.Source.Delimiter = v
	}
	if v := os.Getenv("CSVLOAD_STRICT"); v != "" {
		if strict, err := strconv.ParseBool(v); err == nil {
			cfg.Source.Strict = strict
		}
	}
	if v := os.Getenv("CSVLOAD_AWS_REGION"); v != "" {
		cfg.Source.AWSRegion = v
	}
	if v := os.Getenv("CSVLOAD_AWS_ACCESS_KEY"); v != "" {
		cfg.Source.AWSAccessKey = v
	}
	if v := os.Getenv("CSVLOAD_AWS_SECRET_KEY"); v != "" {
		cfg.Source.AWSSecretKey = v
	}
	if v := os.Getenv("CSVLOAD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CSVLOAD_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CSVLOAD_JOURNAL"); v != "" {
		cfg.Journal.DSN = v
	}
	if v := os.Getenv("CSVLOAD_PUSHGATEWAY"); v != "" {
		cfg.Metrics.Pushgateway = v
	}
}

// applyFlags copies only the flags the user actually set, so flag defaults
// never mask values from the file or the environment.
func applyFlags(flags *pflag.FlagSet, from, cfg *Config) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "index-name":
			cfg.Index.Name = from.Index.Name
		case "file-path":
			cfg.Source.FilePath = from.Source.FilePath
		case "username":
			cfg.Index.Username = from.Index.Username
			cfg.Index.usernameSet = true
		case "password":
			cfg.Index.Password = from.Index.Password
			cfg.Index.passwordSet = true
		case "endpoint":
			cfg.Index.Endpoint = from.Index.Endpoint
		case "delimiter":
			cfg.Source.Delimiter = from.Source.Delimiter
		case "strict":
			cfg.Source.Strict = from.Source.Strict
		case "aws-region":
			cfg.Source.AWSRegion = from.Source.AWSRegion
		case "log-level":
			cfg.Logging.Level = from.Logging.Level
		case "log-format":
			cfg.Logging.Format = from.Logging.Format
		case "journal":
			cfg.Journal.DSN = from.Journal.DSN
		case "pushgateway":
			cfg.Metrics.Pushgateway = from.Metrics.Pushgateway
		case "version":
			cfg.ShowVersion = from.ShowVersion
		}
	})
}

// Validate checks that the required settings are present and well formed.
func (c *Config) Validate() error {
	var missing []string
	if c.Index.Name == "" {
		missing = append(missing, "--index-name")
	}
	if c.Source.FilePath == "" {
		missing = append(missing, "--file-path")
	}
	if c.Index.Username == "" && !c.Index.usernameSet {
		missing = append(missing, "--username")
	}
	if c.Index.Password == "" && !c.Index.passwordSet {
		missing = append(missing, "--password")
	}
	if len(missing) > 0 {
		return apperrors.Newf(apperrors.ErrConfig, "missing required flags: %s", strings.Join(missing, ", "))
	}
	if c.Index.Endpoint == "" {
		return apperrors.New(apperrors.ErrConfig, "endpoint must not be empty")
	}
	switch c.Source.Delimiter {
	case `\t`, "tab":
	default:
		if utf8.RuneCountInString(c.Source.Delimiter) != 1 {
			return apperrors.Newf(apperrors.ErrConfig, "delimiter must be a single character, got %q", c.Source.Delimiter)
		}
		if r := c.Source.Comma(); r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
			return apperrors.Newf(apperrors.ErrConfig, "invalid delimiter %q", c.Source.Delimiter)
		}
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return apperrors.Newf(apperrors.ErrConfig, "unknown log format %q", c.Logging.Format)
	}
	return nil
}

// String renders the configuration for debug logging with the password
// masked.
func (c *Config) String() string {
	return fmt.Sprintf("index=%s endpoint=%s user=%s file=%s delimiter=%q strict=%t",
		c.Index.Name, c.Index.Endpoint, c.Index.Username, c.Source.FilePath, c.Source.Delimiter, c.Source.Strict)
}
