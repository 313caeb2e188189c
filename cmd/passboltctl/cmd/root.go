package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/qntoni/passboltctl/cmd/passboltctl/cmd/permissions"
	"github.com/qntoni/passboltctl/cmd/passboltctl/cmd/resources"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/auth"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/client"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/config"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/login"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/prompt"
	"github.com/qntoni/passboltctl/pkg/sdk"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "passboltctl",
	Short: "Passbolt CLI - browse resources and manage folder permissions",
	Long: `passboltctl is an interactive command-line client for a Passbolt server.
It logs in with GPGAuth or JWT, lists and searches resources, shows the folder
hierarchy, and removes a group's permissions from folders and their resources.

Settings come from flags, PASSBOLT_* environment variables, or a config file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
			}
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := newLogger(cfg, cmd.ErrOrStderr())
		var store sdk.CredentialStore
		if cfg.StoreCredentials {
			fileStore, err := auth.NewFileStore(cfg.CredentialsFile)
			if err != nil {
				return err
			}
			store = fileStore
		}
		provider := client.NewProvider(client.Settings{
			ServerURL:          cfg.ServerURL,
			PrivateKeyPath:     cfg.PrivateKeyPath,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			RequestsPerSecond:  cfg.RequestsPerSecond,
			HTTPTimeout:        cfg.HTTPTimeout,
			Logger:             logger,
			UserID:             cfg.UserID,
			AccessToken:        cfg.AccessToken,
			RefreshToken:       cfg.RefreshToken,
			Credentials:        store,
		})

		cmd.SetContext(config.InjectConfig(cmd.Context(), &config.GlobalConfig{
			Config:         cfg,
			Logger:         logger,
			Prompter:       prompt.Terminal{},
			ClientProvider: provider,
		}))
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())
		if _, err := login.Session(cmd.Context(), cfg); err != nil {
			return err
		}
		return MainMenu(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config, w io.Writer) *pterm.Logger {
	logger := pterm.DefaultLogger.WithLevel(cfg.LogLevel).WithWriter(w)
	if cfg.LogJSON {
		logger = logger.WithFormatter(pterm.LogFormatterJSON)
	}
	return logger
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")
	flags.String("server", "", "Passbolt server URL (PASSBOLT_SERVER_URL)")
	flags.String("private-key", "", "Path to the armored private key (PASSBOLT_PRIVATE_KEY_PATH)")
	flags.String("user-id", "", "User id for JWT logins (PASSBOLT_USER_ID)")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification")
	flags.Float64("rps", 0, "Maximum requests per second, 0 for unlimited")
	flags.Duration("timeout", 0, "HTTP request timeout (default 30s)")
	flags.StringP("output", "o", "", "Output format: table, json or yaml")
	flags.String("log-level", "", "Log level: trace, debug, info, warn or error")
	flags.Bool("log-json", false, "Write logs as JSON")
	flags.Bool("store-credentials", true, "Keep JWT sessions between runs")
	flags.String("credentials-file", "", "Where JWT sessions are kept (default ~/.passboltctl/credentials.json)")

	bindings := map[string]string{
		config.KeyServerURL:          "server",
		config.KeyPrivateKeyPath:     "private-key",
		config.KeyUserID:             "user-id",
		config.KeyInsecureSkipVerify: "insecure-skip-verify",
		config.KeyRequestsPerSecond:  "rps",
		config.KeyHTTPTimeout:        "timeout",
		config.KeyOutput:             "output",
		config.KeyLogLevel:           "log-level",
		config.KeyLogJSON:            "log-json",
		config.KeyStoreCredentials:   "store-credentials",
		config.KeyCredentialsFile:    "credentials-file",
	}
	for key, flag := range bindings {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(resources.ResourcesCmd)
	rootCmd.AddCommand(permissions.PermissionsCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(versionCmd)
}
