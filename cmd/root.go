package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/endodetect/endodetect/internal/api"
	"github.com/endodetect/endodetect/internal/session"
	"github.com/endodetect/endodetect/internal/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const appName = "endodetect"

// Config is the resolved CLI configuration.
type Config struct {
	APIURL   string        `mapstructure:"api_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	StateDir string        `mapstructure:"state_dir"`
	LogLevel string        `mapstructure:"log_level"`
	Output   string        `mapstructure:"output"`
}

// app carries the objects every command shares. It is built once flags and
// configuration are resolved.
type app struct {
	v       *viper.Viper
	cfg     Config
	client  *api.Client
	store   *storage.FileStore
	session *session.Store
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(os.TempDir(), appName)
}

func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Upload colonoscopy images for polyp detection and review the results",
		Long: `EndoDetect sends endoscopy images to a detection backend and shows what it found.

Sign in, upload up to 10 images per batch with patient details, browse your
upload history, and (for administrators) manage accounts and uploads.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			return a.init(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("api-url", "http://127.0.0.1:8000", "Base URL of the EndoDetect API")
	flags.Duration("timeout", api.DefaultTimeout, "Per-request timeout")
	flags.String("state-dir", defaultStateDir(), "Directory holding the saved session")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flags.BoolP("verbose", "v", false, "Shorthand for --log-level=debug")
	flags.StringP("output", "o", "table", "Output format (table, json, yaml)")

	for _, name := range []string{"api-url", "timeout", "state-dir", "log-level", "output"} {
		_ = a.v.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}

	cmd.AddCommand(
		newRegisterCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newProfileCmd(a),
		newModelsCmd(a),
		newUploadCmd(a),
		newHistoryCmd(a),
		newAdminCmd(a),
		newServeCmd(a),
	)

	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	v := a.v
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir, err := cmd.Flags().GetString("state-dir"); err == nil && dir != "" {
		v.AddConfigPath(dir)
	}
	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	if err := v.Unmarshal(&a.cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		a.cfg.LogLevel = "debug"
	}
	if err := setupLogging(a.cfg.LogLevel); err != nil {
		return err
	}

	switch a.cfg.Output {
	case outputTable, outputJSON, outputYAML:
	default:
		return fmt.Errorf("unknown output format %q (supported: table, json, yaml)", a.cfg.Output)
	}

	a.client = api.NewClient(a.cfg.APIURL, api.WithTimeout(a.cfg.Timeout))
	a.store = storage.NewFileStore(filepath.Join(a.cfg.StateDir, "session.yaml"))
	a.session = session.New(a.store, a.client)

	slog.Debug("Configuration loaded", "api_url", a.cfg.APIURL, "state", a.store.Path(), "config", v.ConfigFileUsed())
	return nil
}

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		ReportTimestamp: lvl == log.DebugLevel,
		Prefix:          appName,
	})
	slog.SetDefault(slog.New(logger))
	return nil
}

// requireLogin fails fast when there is no saved session.
func (a *app) requireLogin() error {
	if !a.session.LoggedIn() {
		return fmt.Errorf("not signed in: run `%s login` first", appName)
	}
	return nil
}
