package syncer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/i474232898/pollen-sync/internal/logging"
	"github.com/i474232898/pollen-sync/internal/metrics"
	"github.com/i474232898/pollen-sync/internal/pollen"
	"github.com/i474232898/pollen-sync/internal/pollen/providers"
)

// RetryPolicy controls retries of a single task and pacing between tasks.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// BaseDelay is the wait before the first retry; it doubles per retry.
	BaseDelay time.Duration
	// MaxDelay caps the retry wait. Zero means no cap.
	MaxDelay time.Duration
	// AttemptTimeout bounds one call to the source. Zero means no bound.
	AttemptTimeout time.Duration
	// TaskDelay is the minimum pause between distinct tasks: task starts are
	// spaced by it, and a task does not start until TaskDelay has passed since
	// the previous task settled.
	TaskDelay time.Duration
}

// ErrNoData marks a task whose fetch succeeded but yielded no observation
// inside the task span.
var ErrNoData = errors.New("no observations in range")

// Backoff returns the wait before the given retry (1-based).
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	delay := p.BaseDelay * time.Duration(math.Pow(2, float64(retry-1)))
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay < 0) {
		delay = p.MaxDelay
	}
	return delay
}

// FetchOutcome is the settled result of one task. Failures are data, not errors.
type FetchOutcome struct {
	Task         FetchTask
	Observations []pollen.Observation
	Failed       bool
	// Skipped is set when the task never started because the run was cancelled.
	Skipped  bool
	Attempts int
	// Discarded counts raw entries dropped during normalization.
	Discarded int
	Err       error
}

// RetryingFetcher executes fetch tasks against a source with bounded
// retries, exponential backoff and a minimum delay between tasks.
type RetryingFetcher struct {
	source pollen.Source
	policy RetryPolicy
	pacer  *rate.Limiter
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	settled time.Time
}

func NewRetryingFetcher(source pollen.Source, policy RetryPolicy) *RetryingFetcher {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	limit := rate.Inf
	if policy.TaskDelay > 0 {
		limit = rate.Every(policy.TaskDelay)
	}
	return &RetryingFetcher{
		source: source,
		policy: policy,
		pacer:  rate.NewLimiter(limit, 1),
		sleep:  sleepContext,
	}
}

// Execute runs one task to completion. It never panics past its boundary and
// never returns an error: exhausted retries yield Failed with the last error,
// and a successful call without usable observations yields Failed with
// ErrNoData. A Retry-After hint from the source raises the next backoff.
// Cancellation of ctx skips tasks that have not started and aborts pending
// retry waits; an attempt already in flight is allowed to finish.
func (f *RetryingFetcher) Execute(ctx context.Context, task FetchTask) (out FetchOutcome) {
	out.Task = task
	log := logging.With("city", task.City.Code)

	defer func() {
		if r := recover(); r != nil {
			out.Observations = nil
			out.Failed = true
			out.Err = fmt.Errorf("source panicked: %v", r)
		}
		switch {
		case out.Skipped:
			metrics.FetchTasks.WithLabelValues("skipped").Inc()
		case out.Failed:
			metrics.FetchTasks.WithLabelValues("failed").Inc()
		default:
			metrics.FetchTasks.WithLabelValues("ok").Inc()
		}
	}()

	if err := f.pace(ctx); err != nil {
		out.Failed, out.Skipped, out.Err = true, true, err
		return out
	}
	defer f.settle()

	for attempt := 0; attempt <= f.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := f.policy.Backoff(attempt)
			var ra *providers.RetryAfterError
			if errors.As(out.Err, &ra) && ra.Wait > delay {
				delay = ra.Wait
			}
			log.Debug().Int("retry", attempt).Dur("delay", delay).Err(out.Err).Msg("retrying fetch")
			if err := f.sleep(ctx, delay); err != nil {
				out.Failed = true
				out.Err = fmt.Errorf("retry aborted: %w (last error: %v)", err, out.Err)
				return out
			}
		}

		out.Attempts++
		obs, discarded, err := f.attempt(ctx, task)
		if err == nil && len(obs) == 0 {
			metrics.FetchAttempts.WithLabelValues("empty").Inc()
			out.Failed, out.Discarded = true, discarded
			out.Err = fmt.Errorf("%w for %s", ErrNoData, task)
			log.Warn().Str("task", task.String()).Int("discarded", discarded).Msg("fetch returned no usable data")
			return out
		}
		if err == nil {
			metrics.FetchAttempts.WithLabelValues("ok").Inc()
			out.Observations, out.Discarded, out.Err = obs, discarded, nil
			log.Debug().Str("task", task.String()).Int("records", len(obs)).Int("attempts", out.Attempts).Msg("fetch succeeded")
			return out
		}

		metrics.FetchAttempts.WithLabelValues("error").Inc()
		out.Err = err
		log.Warn().Str("task", task.String()).Int("attempt", out.Attempts).Err(err).Msg("fetch attempt failed")
	}

	out.Failed = true
	return out
}

// pace blocks until the next task may start: the limiter spaces task starts
// and the settle time of the previous task pushes the start back further.
func (f *RetryingFetcher) pace(ctx context.Context) error {
	if err := f.pacer.Wait(ctx); err != nil {
		return err
	}
	if f.policy.TaskDelay <= 0 {
		return nil
	}
	f.mu.Lock()
	last := f.settled
	f.mu.Unlock()
	if last.IsZero() {
		return nil
	}
	if wait := f.policy.TaskDelay - time.Since(last); wait > 0 {
		return f.sleep(ctx, wait)
	}
	return nil
}

func (f *RetryingFetcher) settle() {
	f.mu.Lock()
	f.settled = time.Now()
	f.mu.Unlock()
}

// attempt performs a single call. It is detached from ctx cancellation so
// an interrupted run does not cut a request in half.
func (f *RetryingFetcher) attempt(ctx context.Context, task FetchTask) ([]pollen.Observation, int, error) {
	actx := context.WithoutCancel(ctx)
	if f.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, f.policy.AttemptTimeout)
		defer cancel()
	}

	raw, err := f.source.Fetch(actx, task.City, task.Start, task.End)
	if err != nil {
		return nil, 0, err
	}
	return normalize(task, raw)
}

// normalize converts raw entries into observations stamped with the task's
// city. Entries outside the task span (the source appends forecast days) or
// with unusable dates are discarded. A non-empty payload without a single
// usable entry is a parse failure.
func normalize(task FetchTask, raw []pollen.RawRecord) ([]pollen.Observation, int, error) {
	obs := make([]pollen.Observation, 0, len(raw))
	discarded, unparsable := 0, 0

	for _, r := range raw {
		date, err := pollen.ParseDate(r.Date)
		if err != nil {
			unparsable++
			continue
		}
		if date.Before(task.Start) || date.After(task.End) {
			discarded++
			continue
		}

		level, err := pollen.ParseLevel(r.Level)
		if (err != nil || level == pollen.LevelUnknown) && r.LevelCode != nil {
			level, err = pollen.LevelFromCode(*r.LevelCode)
		}
		if err != nil {
			level = pollen.LevelUnknown
		}

		o := pollen.Observation{
			Date:         date,
			City:         task.City.Code,
			Level:        level,
			CityName:     task.City.Name,
			Description:  r.Description,
			Color:        r.Color,
			Index:        r.Index,
			SourceCityID: task.City.ID,
		}
		if o.CityName == "" {
			o.CityName = r.CityName
		}
		if o.SourceCityID == "" {
			o.SourceCityID = r.SourceCityID
		}
		obs = append(obs, o)
	}

	if len(raw) > 0 && unparsable == len(raw) {
		return nil, 0, fmt.Errorf("%w: no entry with a valid date", providers.ErrParse)
	}
	return obs, discarded + unparsable, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
