package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/oni/internal/config"
	"github.com/harun/oni/internal/logger"
	"github.com/harun/oni/internal/observability"
	"github.com/harun/oni/pkg/session"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "oni",
	Short: "oni - chat session store and LLM gateway",
	Long: `oni keeps per-user chat sessions for a guild chat bot and runs conversation
turns against an OpenAI-compatible model endpoint such as Ollama. Sessions are
cached in memory and written through to SQLite; a scheduled sync prunes empty
and malformed entries.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.oni/oni.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	rootCmd.AddCommand(newServeCmd(), newSessionsCmd(), newChatCmd(), newModelsCmd())
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig reads and validates the config named by --config, applying --log-level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// environment is what a one-shot command needs: config, a console logger and
// the session manager over the configured store.
type environment struct {
	config  *config.Config
	logger  *logger.Logger
	manager *session.Manager
}

func openEnvironment() (*environment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	// One-shot commands stay quiet on the console unless asked otherwise.
	level := logLevel
	if level == "" {
		level = "warn"
	}
	log, err := logger.New(logger.Config{
		Level:     level,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.Audit.Enabled {
		if err := observability.InitAuditLogger(cfg.Audit.Path); err != nil {
			log.Warn().Err(err).Msg("Failed to open audit log")
		}
	} else {
		observability.DisableAuditLogger()
	}

	mgr, err := session.Open(session.Config{
		DBPath:      cfg.Sessions.DBPath,
		MaxSessions: cfg.Sessions.MaxPerUser,
	})
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	return &environment{config: cfg, logger: log, manager: mgr}, nil
}

// Close flushes the session cache and releases the store, audit log and logger.
func (e *environment) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := e.manager.Close(ctx)
	_ = observability.GetAuditLogger().Close()
	_ = e.logger.Close()
	return err
}
