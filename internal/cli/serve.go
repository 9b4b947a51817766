package cli

import (
	"fmt"
	"time"

	"github.com/harun/oni/internal/config"
	"github.com/harun/oni/internal/daemon"
	"github.com/harun/oni/internal/logger"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the oni daemon in the foreground",
		Long: `Run the oni daemon: open the session store, start the scheduled cache sync,
serve metrics when enabled and watch the config file for changes.
On SIGINT or SIGTERM the cache is flushed to the store before exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, noWatch)
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file on change")

	return cmd
}

func runServe(cmd *cobra.Command, noWatch bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logFile := cfg.Logging.File
	if logFile == "" {
		logFile = logger.SessionLogFile(cfg.LogDir(), time.Now())
	}
	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      logFile,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	if !noWatch {
		if err := d.WatchConfig(config.NewLoader(cfgFile)); err != nil {
			log.Warn().Err(err).Msg("Config hot reload disabled")
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "oni %s serving sessions from %s\n", version, cfg.Sessions.DBPath)

	d.Wait()
	return nil
}
