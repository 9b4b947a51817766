package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultSyncSchedule matches the half-hourly auto-save of the chat bot.
const DefaultSyncSchedule = "@every 30m"

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a five-field cron expression or a descriptor such as "@every 30m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	return s, nil
}

// Syncer runs Manager sync passes on a cron schedule. Overlapping runs are skipped.
type Syncer struct {
	manager    *Manager
	schedule   string
	runOnStart bool

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	last    SyncResult
	lastAt  time.Time

	startup sync.WaitGroup
}

// NewSyncer creates a syncer for manager. An empty schedule selects DefaultSyncSchedule.
func NewSyncer(manager *Manager, schedule string, runOnStart bool) *Syncer {
	if schedule == "" {
		schedule = DefaultSyncSchedule
	}
	return &Syncer{
		manager:    manager,
		schedule:   schedule,
		runOnStart: runOnStart,
	}
}

// Start schedules the sync job.
func (s *Syncer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("syncer is already running")
	}

	sched, err := ParseSchedule(s.schedule)
	if err != nil {
		return err
	}

	logger := cronLogger{logger: log.Logger.With().Str("component", "session-syncer").Logger()}
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(sched, cron.FuncJob(func() { s.run("scheduled") }))
	c.Start()

	s.cron = c
	s.running = true

	if s.runOnStart {
		s.startup.Add(1)
		go func() {
			defer s.startup.Done()
			s.run("startup")
		}()
	}

	log.Info().Str("schedule", s.schedule).Msg("Session syncer started")
	return nil
}

// Stop removes the schedule and waits for running passes, the startup pass included, to finish
// or ctx to end.
func (s *Syncer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("syncer is not running")
	}
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	startupDone := make(chan struct{})
	go func() {
		s.startup.Wait()
		close(startupDone)
	}()

	cronDone := c.Stop().Done()
	for cronDone != nil || startupDone != nil {
		select {
		case <-cronDone:
			cronDone = nil
		case <-startupDone:
			startupDone = nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	log.Info().Msg("Session syncer stopped")
	return nil
}

func (s *Syncer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Last returns the result of the most recent pass and when it finished.
func (s *Syncer) Last() (SyncResult, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastAt
}

func (s *Syncer) run(trigger string) {
	res, _ := s.manager.syncPass(context.Background(), trigger)

	s.mu.Lock()
	s.last = res
	s.lastAt = time.Now()
	s.mu.Unlock()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
