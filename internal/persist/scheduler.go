package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/color-tally/backend/internal/counter"
)

// Saver writes the live state to one path. It is shared by the periodic
// scheduler and the final save at shutdown.
type Saver struct {
	path     string
	store    *counter.Store
	presence *counter.Presence
	log      zerolog.Logger

	// OnResult, if set, observes the outcome of every save.
	OnResult func(err error)
}

func NewSaver(path string, store *counter.Store, presence *counter.Presence, log zerolog.Logger) *Saver {
	return &Saver{
		path:     path,
		store:    store,
		presence: presence,
		log:      log,
	}
}

func (s *Saver) Path() string { return s.path }

// Save writes a snapshot and logs the outcome. A failed save leaves the
// service running on in-memory state until the next attempt.
func (s *Saver) Save() error {
	start := time.Now()
	err := Save(s.path, s.store, s.presence)
	if s.OnResult != nil {
		s.OnResult(err)
	}
	if err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("snapshot save failed")
		return err
	}
	s.log.Info().Str("path", s.path).Dur("took", time.Since(start)).Msg("snapshot saved")
	return nil
}

// Scheduler runs a Saver on a cron schedule.
type Scheduler struct {
	cron  *cron.Cron
	saver *Saver
}

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewScheduler parses spec (a cron expression, or a descriptor like
// "@every 30m" or "@hourly") and prepares a job that calls saver.Save.
// Runs that would overlap a still-running save are skipped.
func NewScheduler(spec string, saver *Saver, log zerolog.Logger) (*Scheduler, error) {
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing snapshot schedule %q: %w", spec, err)
	}

	logger := cronLogger{log: log}
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(sched, cron.FuncJob(func() {
		_ = saver.Save()
	}))

	return &Scheduler{cron: c, saver: saver}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents further runs and waits for an in-progress save, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the time of the next scheduled save, or the zero time if the
// scheduler is not running.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
