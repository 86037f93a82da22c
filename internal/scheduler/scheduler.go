package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/pollen-sync/internal/logging"
	"github.com/i474232898/pollen-sync/internal/syncer"
)

// Syncer is the part of the sync service the scheduler drives.
type Syncer interface {
	Sync(ctx context.Context, spec syncer.WindowSpec) (*syncer.Report, error)
}

// Scheduler periodically re-runs the configured sync.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   Syncer
	spec      syncer.WindowSpec
	interval  time.Duration
	timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Scheduler. timeout bounds a single run; zero means none.
func New(spec syncer.WindowSpec, interval, timeout time.Duration, service Syncer) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		service:   service,
		spec:      spec,
		interval:  interval,
		timeout:   timeout,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the job, runs it once immediately and starts the
// underlying scheduler. Runs never overlap.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		logging.Info().Msg("scheduler: no sync interval configured; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(s.run)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	logging.Info().Dur("interval", s.interval).Msg("scheduler: started")
	return nil
}

func (s *Scheduler) run() {
	logging.Info().Msg("scheduler: running pollen sync job")

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if _, err := s.service.Sync(ctx, s.spec); err != nil {
		if errors.Is(err, syncer.ErrTotalSyncFailure) {
			logging.Error().Err(err).Msg("scheduler: sync produced no data")
			return
		}
		logging.Error().Err(err).Msg("scheduler: sync failed")
		return
	}
	logging.Info().Msg("scheduler: completed pollen sync job")
}

// Stop cancels a running job between tasks and stops future runs.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
