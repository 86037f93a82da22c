package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/pollen-sync/internal/logging"
	"github.com/i474232898/pollen-sync/internal/metrics"
	"github.com/i474232898/pollen-sync/internal/pollen"
	"github.com/i474232898/pollen-sync/internal/store"
)

// ErrTotalSyncFailure is returned when, after a run, no requested city has
// any known observation, pre-existing or new.
var ErrTotalSyncFailure = errors.New("sync produced no data for any requested city")

// Options configure a Coordinator.
type Options struct {
	StorePath string
	File      store.FileOptions
	Strategy  PlanStrategy
	Columns   store.ColumnPolicy
	// Workers is the number of tasks fetched concurrently. Values below 1 mean 1.
	Workers int
}

// Coordinator drives one sync pass: load, analyze, plan, fetch, merge, save, report.
type Coordinator struct {
	fetcher *RetryingFetcher
	opts    Options
	now     func() time.Time
}

func NewCoordinator(fetcher *RetryingFetcher, opts Options) *Coordinator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Strategy == "" {
		opts.Strategy = PlanPerDate
	}
	if opts.Columns == "" {
		opts.Columns = store.ColumnsIntersect
	}
	return &Coordinator{fetcher: fetcher, opts: opts, now: time.Now}
}

// Options returns the coordinator's effective options.
func (c *Coordinator) Options() Options {
	return c.opts
}

// Run executes one pass over the window. Per-task failures end up in the
// report; the returned error is non-nil only when the store cannot be
// saved or when ErrTotalSyncFailure applies. The report is returned in
// both cases.
func (c *Coordinator) Run(ctx context.Context, w Window) (*Report, error) {
	rep := &Report{
		RunID:     uuid.NewString(),
		Start:     w.Start,
		End:       w.End,
		Cities:    w.CityCodes(),
		StartedAt: c.now(),
	}
	log := logging.With("run_id", rep.RunID)
	defer func() {
		rep.FinishedAt = c.now()
		metrics.SyncDuration.Observe(rep.FinishedAt.Sub(rep.StartedAt).Seconds())
	}()

	// LOAD
	st, err := store.Load(c.opts.StorePath, c.opts.File)
	if err != nil {
		rep.LoadWarning = err.Error()
		if errors.Is(err, store.ErrMissingFile) {
			log.Info().Str("path", c.opts.StorePath).Msg("no existing store, starting empty")
		} else {
			log.Warn().Err(err).Msg("store unusable, starting empty")
		}
	}

	// ANALYZE / PLAN
	gaps := Gaps(st, w)
	tasks := Plan(gaps, c.opts.Strategy)
	rep.MissingBefore = CountMissing(gaps)
	rep.TasksPlanned = len(tasks)
	log.Info().
		Str("start", w.Start.Format(pollen.DateLayout)).
		Str("end", w.End.Format(pollen.DateLayout)).
		Int("cities", len(w.Cities)).
		Int("missing", rep.MissingBefore).
		Int("tasks", len(tasks)).
		Msg("sync planned")

	if len(tasks) == 0 {
		rep.UpToDate = true
		rep.Succeeded = rep.Cities
		log.Info().Msg("already up to date")
		return rep, c.checkTotal(st, w)
	}

	// FETCH
	outcomes := c.fetchAll(ctx, tasks)

	failed := make(map[string]bool)
	var batch []pollen.Observation
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			rep.TasksSkipped++
			failed[o.Task.City.Code] = true
		case o.Failed:
			rep.TasksFailed++
			rep.Discarded += o.Discarded
			failed[o.Task.City.Code] = true
			if rep.Errors == nil {
				rep.Errors = make(map[string]string)
			}
			if o.Err != nil {
				rep.Errors[o.Task.String()] = o.Err.Error()
			}
		default:
			rep.Discarded += o.Discarded
			batch = append(batch, o.Observations...)
		}
	}
	for _, code := range rep.Cities {
		if failed[code] {
			rep.Failed = append(rep.Failed, code)
		} else {
			rep.Succeeded = append(rep.Succeeded, code)
		}
	}
	rep.Cancelled = ctx.Err() != nil

	// MERGE
	res := st.Merge(batch, c.opts.Columns)
	rep.Merged, rep.Inserted, rep.Replaced = res.Merged(), res.Inserted, res.Replaced
	rep.DroppedColumns = res.Dropped
	if len(res.Dropped) > 0 {
		log.Warn().Interface("columns", res.Dropped).Msg("columns dropped by merge")
	}
	metrics.ObservationsMerged.Add(float64(res.Merged()))

	// SAVE
	if res.Merged() > 0 {
		if err := st.Save(c.opts.StorePath, c.opts.File); err != nil {
			return rep, fmt.Errorf("save store: %w", err)
		}
		rep.Saved = true
		log.Info().Str("path", c.opts.StorePath).Int("rows", st.Len()).Msg("store saved")
	}

	return rep, c.checkTotal(st, w)
}

// fetchAll settles every task. Results are indexed by plan order so the
// merge does not depend on completion order.
func (c *Coordinator) fetchAll(ctx context.Context, tasks []FetchTask) []FetchOutcome {
	outcomes := make([]FetchOutcome, len(tasks))

	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for i, task := range tasks {
		if ctx.Err() != nil {
			outcomes[i] = FetchOutcome{Task: task, Failed: true, Skipped: true, Err: ctx.Err()}
			continue
		}
		g.Go(func() error {
			outcomes[i] = c.fetcher.Execute(ctx, task)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// checkTotal returns ErrTotalSyncFailure when none of the window's cities
// has a known observation on any date.
func (c *Coordinator) checkTotal(st *store.RecordStore, w Window) error {
	for _, city := range w.Cities {
		if len(st.ObservedDates(city.Code)) > 0 {
			return nil
		}
	}
	return ErrTotalSyncFailure
}
