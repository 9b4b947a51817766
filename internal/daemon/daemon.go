package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/oni/internal/config"
	"github.com/harun/oni/internal/logger"
	"github.com/harun/oni/internal/observability"
	"github.com/harun/oni/internal/tracing"
	"github.com/harun/oni/pkg/session"
)

// shutdownTimeout bounds the syncer drain and the final cache flush.
const shutdownTimeout = 30 * time.Second

// Daemon represents the oni daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	sessionMgr *session.Manager
	syncer     *session.Syncer

	// Services
	metricsServer *MetricsServer
	lifecycle     *LifecycleManager

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("oni-daemon"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		log.Debug().Msg("Tracing initialized")
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		tracingEnabled: true,
	}

	if err := d.initializeModules(); err != nil {
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize modules: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeModules opens the session store and wires the collaborators that share it.
func (d *Daemon) initializeModules() error {
	cfg := d.config

	if cfg.Audit.Enabled {
		if err := observability.InitAuditLogger(cfg.Audit.Path); err != nil {
			d.logger.Warn().Err(err).Str("path", cfg.Audit.Path).Msg("Failed to open audit log, auditing to stderr")
		}
	} else {
		observability.DisableAuditLogger()
	}

	mgr, err := session.Open(session.Config{
		DBPath:      cfg.Sessions.DBPath,
		MaxSessions: cfg.Sessions.MaxPerUser,
	})
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	d.sessionMgr = mgr
	d.logger.Info().
		Str("db_path", cfg.Sessions.DBPath).
		Int("max_per_user", mgr.MaxSessions()).
		Msg("Session manager initialized")

	d.syncer = session.NewSyncer(mgr, cfg.Sessions.SyncSchedule, cfg.Sessions.SyncOnStart)

	if cfg.Metrics.Enabled {
		d.metricsServer = NewMetricsServer(cfg.Metrics.Addr, d.Status)
	}

	return nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting oni daemon")

	fail := func(err error) error {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return err
	}

	if err := d.lifecycle.Start(); err != nil {
		return fail(fmt.Errorf("failed to start lifecycle manager: %w", err))
	}

	if err := d.syncer.Start(); err != nil {
		_ = d.lifecycle.Stop()
		return fail(fmt.Errorf("failed to start session syncer: %w", err))
	}

	if d.metricsServer != nil {
		if err := d.metricsServer.Start(); err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			_ = d.syncer.Stop(stopCtx)
			cancel()
			_ = d.lifecycle.Stop()
			return fail(fmt.Errorf("failed to start metrics server: %w", err))
		}
		logger.Info().Str("addr", d.metricsServer.Addr()).Msg("Metrics server started")
	}

	logger.Info().Msg("Daemon started successfully")

	return nil
}

// Stop stops the daemon service gracefully. The session cache is flushed to the
// store before the store is closed.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping oni daemon")

	ctx, cancel := context.WithTimeout(tracing.WithTraceID(context.Background(), traceID), shutdownTimeout)
	defer cancel()

	if d.metricsServer != nil {
		if err := d.metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop metrics server")
		}
	}

	// Stop the schedule first so no pass races the final flush
	if d.syncer.IsRunning() {
		if err := d.syncer.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop session syncer")
		}
	}

	var closeErr error
	if err := d.sessionMgr.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to close session manager")
		closeErr = err
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped")

	return closeErr
}

// ApplyConfig applies a reloaded configuration. Only the per-user session cap takes
// effect at runtime; other changes are logged and wait for a restart.
func (d *Daemon) ApplyConfig(cfg *config.Config) {
	d.mu.Lock()
	prev := d.config
	d.config = cfg
	d.mu.Unlock()

	if prev.Sessions.MaxPerUser != cfg.Sessions.MaxPerUser {
		d.sessionMgr.SetMaxSessions(cfg.Sessions.MaxPerUser)
		d.logger.Info().
			Int("previous", prev.Sessions.MaxPerUser).
			Int("max_per_user", d.sessionMgr.MaxSessions()).
			Msg("Session cap updated")
		observability.RecordConfigAudit(context.Background(), "config.reload", map[string]interface{}{
			"max_per_user": cfg.Sessions.MaxPerUser,
		})
	}

	if prev.Sessions.SyncSchedule != cfg.Sessions.SyncSchedule ||
		prev.Sessions.DBPath != cfg.Sessions.DBPath ||
		prev.Metrics != cfg.Metrics {
		d.logger.Warn().Msg("Configuration change requires a restart to take effect")
	}
}

// WatchConfig hot-reloads the config file behind loader.
func (d *Daemon) WatchConfig(loader *config.Loader) error {
	return loader.Watch(d.ApplyConfig)
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	status := Status{
		Running: d.running,
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	d.mu.RUnlock()

	status.Sessions = d.sessionMgr.Stats()
	status.LastSync, status.LastSyncAt = d.syncer.Last()

	return status
}

// Wait blocks until SIGINT or SIGTERM and then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetSessionManager returns the session manager
func (d *Daemon) GetSessionManager() *session.Manager {
	return d.sessionMgr
}

// GetSyncer returns the session syncer
func (d *Daemon) GetSyncer() *session.Syncer {
	return d.syncer
}

// Status represents daemon status
type Status struct {
	Running    bool
	Uptime     time.Duration
	StartTime  time.Time
	Sessions   session.Stats
	LastSync   session.SyncResult
	LastSyncAt time.Time
}
