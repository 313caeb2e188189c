package config

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pterm/pterm"
	"github.com/spf13/viper"

	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/client"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/prompt"
)

// EnvPrefix is prepended to every environment variable, e.g. PASSBOLT_SERVER_URL.
const EnvPrefix = "PASSBOLT"

// Configuration keys. Flags and config file entries use the same names.
const (
	KeyServerURL          = "server_url"
	KeyPrivateKeyPath     = "private_key_path"
	KeyPassphrase         = "private_key_passphrase"
	KeyUserID             = "user_id"
	KeyAccessToken        = "access_token"
	KeyRefreshToken       = "refresh_token"
	KeyInsecureSkipVerify = "insecure_skip_verify"
	KeyRequestsPerSecond  = "requests_per_second"
	KeyHTTPTimeout        = "http_timeout"
	KeyOutput             = "output"
	KeyLogLevel           = "log_level"
	KeyLogJSON            = "log_json"
	KeyStoreCredentials   = "store_credentials"
	KeyCredentialsFile    = "credentials_file"
)

// OutputFormat selects how listings are rendered.
type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

// Config holds the settings resolved from flags, environment and config file.
type Config struct {
	// Base URL of the server, e.g. https://passbolt.example.com
	ServerURL string `mapstructure:"server_url"`

	// Path to the operator's armored private key
	PrivateKeyPath string `mapstructure:"private_key_path"`

	// Passphrase of the private key. Prompted for when empty.
	Passphrase string `mapstructure:"private_key_passphrase"`

	// User id sent with JWT logins. Prompted for when empty.
	UserID string `mapstructure:"user_id"`

	// Tokens of an earlier JWT login, resumed instead of logging in again.
	AccessToken  string `mapstructure:"access_token"`
	RefreshToken string `mapstructure:"refresh_token"`

	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"`
	HTTPTimeout        time.Duration `mapstructure:"http_timeout"`

	// Whether JWT sessions are kept between runs, and where. An empty file means
	// ~/.passboltctl/credentials.json.
	StoreCredentials bool   `mapstructure:"store_credentials"`
	CredentialsFile  string `mapstructure:"credentials_file"`

	Output   OutputFormat   `mapstructure:"output"`
	LogLevel pterm.LogLevel `mapstructure:"log_level"`
	LogJSON  bool           `mapstructure:"log_json"`
}

// Load resolves the configuration from the global viper instance. Environment
// variables take precedence over a config file read beforehand by the caller.
func Load() (*Config, error) {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault(KeyServerURL, "")
	viper.SetDefault(KeyPrivateKeyPath, "")
	viper.SetDefault(KeyPassphrase, "")
	viper.SetDefault(KeyUserID, "")
	viper.SetDefault(KeyAccessToken, "")
	viper.SetDefault(KeyRefreshToken, "")
	viper.SetDefault(KeyInsecureSkipVerify, false)
	viper.SetDefault(KeyRequestsPerSecond, 0)
	viper.SetDefault(KeyHTTPTimeout, "30s")
	viper.SetDefault(KeyOutput, string(OutputTable))
	viper.SetDefault(KeyLogLevel, "warn")
	viper.SetDefault(KeyLogJSON, false)
	viper.SetDefault(KeyStoreCredentials, true)
	viper.SetDefault(KeyCredentialsFile, "")

	cfg := &Config{}
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToLogLevelHookFunc(),
		stringToOutputFormatHookFunc(),
	))
	if err := viper.Unmarshal(cfg, hooks); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("%s_SERVER_URL (or --server) is required", EnvPrefix)
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server URL %q must be an absolute http(s) URL", c.ServerURL)
	}
	if c.PrivateKeyPath == "" {
		return fmt.Errorf("%s_PRIVATE_KEY_PATH (or --private-key) is required", EnvPrefix)
	}
	if (c.AccessToken == "") != (c.RefreshToken == "") {
		return fmt.Errorf("%s_ACCESS_TOKEN and %s_REFRESH_TOKEN must be set together", EnvPrefix, EnvPrefix)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second must not be negative, got %v", c.RequestsPerSecond)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("http timeout must not be negative, got %s", c.HTTPTimeout)
	}
	return nil
}

var logLevels = map[string]pterm.LogLevel{
	"trace": pterm.LogLevelTrace,
	"debug": pterm.LogLevelDebug,
	"info":  pterm.LogLevelInfo,
	"warn":  pterm.LogLevelWarn,
	"error": pterm.LogLevelError,
	"fatal": pterm.LogLevelFatal,
}

func stringToLogLevelHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(pterm.LogLevel(0)) {
			return data, nil
		}
		level, ok := logLevels[strings.ToLower(strings.TrimSpace(data.(string)))]
		if !ok {
			return nil, fmt.Errorf("unknown log level %q", data)
		}
		return level, nil
	}
}

func stringToOutputFormatHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(OutputFormat("")) {
			return data, nil
		}
		format := OutputFormat(strings.ToLower(strings.TrimSpace(data.(string))))
		switch format {
		case OutputTable, OutputJSON, OutputYAML:
			return format, nil
		default:
			return nil, fmt.Errorf("unknown output format %q (want table, json or yaml)", data)
		}
	}
}

type contextKey string

const configKey contextKey = "passboltctl-config"

// GlobalConfig holds shared state for all passboltctl commands.
// This is injected into the cobra command context by the root command's
// PersistentPreRunE hook and consumed by all subcommands.
type GlobalConfig struct {
	*Config
	Logger         *pterm.Logger
	Prompter       prompt.Prompter
	ClientProvider *client.Provider
}

// InjectConfig adds config to the cobra command context.
func InjectConfig(ctx context.Context, cfg *GlobalConfig) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from the cobra command context.
// Returns (nil, false) if config is not present.
func FromContext(ctx context.Context) (*GlobalConfig, bool) {
	cfg, ok := ctx.Value(configKey).(*GlobalConfig)
	return cfg, ok
}

// MustFromContext retrieves config from context or panics.
// This should only be used in command RunE functions where we know
// the config has been injected by the root command.
func MustFromContext(ctx context.Context) *GlobalConfig {
	cfg, ok := FromContext(ctx)
	if !ok {
		panic("passboltctl: config not found in context - this is a bug in passboltctl")
	}
	return cfg
}
