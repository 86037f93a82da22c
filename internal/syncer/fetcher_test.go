package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/i474232898/pollen-sync/internal/pollen"
	"github.com/i474232898/pollen-sync/internal/pollen/providers"
)

// fakeSource answers with fn and records every call.
type fakeSource struct {
	mu    sync.Mutex
	calls []FetchTask
	fn    func(ctx context.Context, city pollen.City, start, end time.Time) ([]pollen.RawRecord, error)
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(ctx context.Context, city pollen.City, start, end time.Time) ([]pollen.RawRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, FetchTask{City: city, Start: start, End: end})
	f.mu.Unlock()
	return f.fn(ctx, city, start, end)
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// dailyRecords returns one "low" record per day of the span.
func dailyRecords(_ context.Context, city pollen.City, start, end time.Time) ([]pollen.RawRecord, error) {
	var out []pollen.RawRecord
	for _, d := range pollen.DatesBetween(start, end) {
		out = append(out, pollen.RawRecord{
			Date:     d.Format(pollen.DateLayout),
			City:     city.Code,
			CityName: city.Name,
			Level:    "low",
			Color:    "#A1FF3D",
		})
	}
	return out, nil
}

// newTestFetcher builds a fetcher without pacing whose retry waits are
// recorded instead of slept.
func newTestFetcher(src pollen.Source, maxRetries int) (*RetryingFetcher, *[]time.Duration) {
	f := NewRetryingFetcher(src, RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  time.Second,
		MaxDelay:   4 * time.Second,
	})
	var mu sync.Mutex
	var waits []time.Duration
	f.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		return ctx.Err()
	}
	return f, &waits
}

func TestBackoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 2 * time.Second, MaxDelay: 5 * time.Second}
	want := []time.Duration{0, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for retry, w := range want {
		if got := p.Backoff(retry); got != w {
			t.Fatalf("retry %d: expected %s, got %s", retry, w, got)
		}
	}
	uncapped := RetryPolicy{BaseDelay: time.Second}
	if got := uncapped.Backoff(4); got != 8*time.Second {
		t.Fatalf("expected 8s without cap, got %s", got)
	}
}

func TestExecuteRetriesAreBounded(t *testing.T) {
	src := &fakeSource{fn: func(context.Context, pollen.City, time.Time, time.Time) ([]pollen.RawRecord, error) {
		return nil, providers.ErrServerError
	}}
	f, waits := newTestFetcher(src, 3)

	out := f.Execute(context.Background(), FetchTask{City: xian, Start: day("2024-04-01"), End: day("2024-04-01")})
	if !out.Failed || out.Skipped {
		t.Fatalf("expected failed outcome, got %+v", out)
	}
	if out.Attempts != 4 || src.callCount() != 4 {
		t.Fatalf("expected 4 attempts, got %d (calls %d)", out.Attempts, src.callCount())
	}
	if !errors.Is(out.Err, providers.ErrServerError) {
		t.Fatalf("expected last error attached, got %v", out.Err)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(*waits) != len(want) {
		t.Fatalf("expected waits %v, got %v", want, *waits)
	}
	for i := range want {
		if (*waits)[i] != want[i] {
			t.Fatalf("expected waits %v, got %v", want, *waits)
		}
	}
}

func TestExecuteSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	src := &fakeSource{fn: func(ctx context.Context, city pollen.City, start, end time.Time) ([]pollen.RawRecord, error) {
		calls++
		if calls < 3 {
			return nil, providers.ErrRateLimited
		}
		return dailyRecords(ctx, city, start, end)
	}}
	f, _ := newTestFetcher(src, 3)

	out := f.Execute(context.Background(), FetchTask{City: xian, Start: day("2024-04-01"), End: day("2024-04-02")})
	if out.Failed || out.Err != nil {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.Attempts != 3 || len(out.Observations) != 2 {
		t.Fatalf("expected 3 attempts and 2 observations, got %d and %d", out.Attempts, len(out.Observations))
	}
}

func TestExecuteUsesRetryAfterHint(t *testing.T) {
	calls := 0
	src := &fakeSource{fn: func(ctx context.Context, city pollen.City, start, end time.Time) ([]pollen.RawRecord, error) {
		calls++
		if calls == 1 {
			return nil, &providers.RetryAfterError{Wait: 10 * time.Second}
		}
		if calls == 2 {
			return nil, &providers.RetryAfterError{Wait: time.Second}
		}
		return dailyRecords(ctx, city, start, end)
	}}
	f, waits := newTestFetcher(src, 3)

	out := f.Execute(context.Background(), FetchTask{City: xian, Start: day("2024-04-01"), End: day("2024-04-01")})
	if out.Failed {
		t.Fatalf("expected success, got %+v", out)
	}
	// The hint raises the first wait; a hint below the backoff leaves it alone.
	want := []time.Duration{10 * time.Second, 2 * time.Second}
	if len(*waits) != len(want) || (*waits)[0] != want[0] || (*waits)[1] != want[1] {
		t.Fatalf("expected waits %v, got %v", want, *waits)
	}
}

func TestExecuteEmptyResultFails(t *testing.T) {
	payloads := map[string][]pollen.RawRecord{
		"empty payload": nil,
		"out of window": {{Date: "2024-04-05", Level: "low"}},
	}
	for name, raw := range payloads {
		t.Run(name, func(t *testing.T) {
			src := &fakeSource{fn: func(context.Context, pollen.City, time.Time, time.Time) ([]pollen.RawRecord, error) {
				return raw, nil
			}}
			f, waits := newTestFetcher(src, 3)

			out := f.Execute(context.Background(), FetchTask{City: xian, Start: day("2024-04-01"), End: day("2024-04-01")})
			if !out.Failed || out.Skipped {
				t.Fatalf("expected failed outcome, got %+v", out)
			}
			if !errors.Is(out.Err, ErrNoData) {
				t.Fatalf("expected ErrNoData, got %v", out.Err)
			}
			if out.Attempts != 1 || len(*waits) != 0 {
				t.Fatalf("expected no retry, got %d attempts and waits %v", out.Attempts, *waits)
			}
		})
	}
}

func TestExecuteWaitsTaskDelayAfterSettle(t *testing.T) {
	const taskDelay = 150 * time.Millisecond

	var mu sync.Mutex
	var stamps []time.Time
	failed := false
	src := &fakeSource{fn: func(ctx context.Context, city pollen.City, start, end time.Time) ([]pollen.RawRecord, error) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		retry := city.Code == beijing.Code && !failed
		if retry {
			failed = true
		}
		mu.Unlock()
		if retry {
			return nil, providers.ErrServerError
		}
		return dailyRecords(ctx, city, start, end)
	}}
	f := NewRetryingFetcher(src, RetryPolicy{MaxRetries: 1, BaseDelay: taskDelay, TaskDelay: taskDelay})

	first := f.Execute(context.Background(), FetchTask{City: beijing, Start: day("2024-04-01"), End: day("2024-04-01")})
	second := f.Execute(context.Background(), FetchTask{City: xian, Start: day("2024-04-01"), End: day("2024-04-01")})
	if first.Failed || second.Failed || first.Attempts != 2 {
		t.Fatalf("unexpected outcomes %+v %+v", first, second)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stamps) != 3 {
		t.Fatalf("expected 3 source calls, got %d", len(stamps))
	}
	if gap := stamps[2].Sub(stamps[1]); gap < taskDelay {
		t.Fatalf("expected at least %s between tasks, got %s", taskDelay, gap)
	}
}

func TestExecuteZeroRetries(t *testing.T) {
	src := &fakeSource{fn: func(context.Context, pollen.City, time.Time, time.Time) ([]pollen.RawRecord, error) {
		return nil, errors.New("boom")
	}}
	f, waits := newTestFetcher(src, 0)

	out := f.Execute(context.Background(), FetchTask{City: xian, Start: day("2024-04-01"), End: day("2024-04-01")})
	if !out.Failed || out.Attempts != 1 || len(*waits) != 0 {
		t.Fatalf("expected a single failed attempt, got %+v waits %v", out, *waits)
	}
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	src := &fakeSource{fn: func(context.Context, pollen.City, time.Time, time.Time) ([]pollen.RawRecord, error) {
		panic("source exploded")
	}}
	f, _ := newTestFetcher(src, 2)

	out := f.Execute(context.Background(), FetchTask{City: xian, Start: day("2024-04-01"), End: day("2024-04-01")})
	if !out.Failed || out.Err == nil {
		t.Fatalf("expected failed outcome after panic, got %+v", out)
	}
}

func TestExecuteSkipsWhenCancelledBeforeStart(t *testing.T) {
	src := &fakeSource{fn: dailyRecords}
	f, _ := newTestFetcher(src, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.Execute(ctx, FetchTask{City: xian, Start: day("2024-04-01"), End: day("2024-04-01")})
	if !out.Skipped || !out.Failed {
		t.Fatalf("expected skipped outcome, got %+v", out)
	}
	if src.callCount() != 0 {
		t.Fatalf("expected no source calls, got %d", src.callCount())
	}
}

func TestExecuteLetsInFlightAttemptFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{fn: func(actx context.Context, city pollen.City, start, end time.Time) ([]pollen.RawRecord, error) {
		cancel()
		if err := actx.Err(); err != nil {
			return nil, err
		}
		return dailyRecords(actx, city, start, end)
	}}
	f, _ := newTestFetcher(src, 3)

	out := f.Execute(ctx, FetchTask{City: xian, Start: day("2024-04-01"), End: day("2024-04-01")})
	if out.Failed || len(out.Observations) != 1 {
		t.Fatalf("expected in-flight attempt to complete, got %+v", out)
	}
}

func TestExecuteAbortsRetryWaitOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{fn: func(context.Context, pollen.City, time.Time, time.Time) ([]pollen.RawRecord, error) {
		cancel()
		return nil, providers.ErrServerError
	}}
	f, _ := newTestFetcher(src, 3)

	out := f.Execute(ctx, FetchTask{City: xian, Start: day("2024-04-01"), End: day("2024-04-01")})
	if !out.Failed || out.Skipped {
		t.Fatalf("expected failed, not skipped, got %+v", out)
	}
	if out.Attempts != 1 {
		t.Fatalf("expected retries abandoned after cancel, got %d attempts", out.Attempts)
	}
	if !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("expected context.Canceled in error, got %v", out.Err)
	}
}

func TestNormalize(t *testing.T) {
	code := 4
	task := FetchTask{City: xian, Start: day("2024-04-01"), End: day("2024-04-02")}
	raw := []pollen.RawRecord{
		{Date: "2024-04-01 08:00:00", City: "101110101", CityName: "Xi'an", Level: "较低"},
		{Date: "2024-04-02", Level: "", LevelCode: &code},
		{Date: "2024-04-03", Level: "high"},
		{Date: "yesterday", Level: "low"},
		{Date: "2024-03-31", Level: "low"},
	}

	got, discarded, err := normalize(task, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || discarded != 3 {
		t.Fatalf("expected 2 kept and 3 discarded, got %d and %d", len(got), discarded)
	}
	for _, o := range got {
		if o.City != "xian" || o.CityName != "西安" || o.SourceCityID != xian.ID {
			t.Fatalf("expected task city stamped, got %+v", o)
		}
	}
	if got[0].Level != pollen.LevelLow {
		t.Fatalf("expected native label parsed, got %s", got[0].Level)
	}
	if got[1].Level != pollen.LevelHigh {
		t.Fatalf("expected level code 4 to map to high, got %s", got[1].Level)
	}
}

func TestNormalizeRejectsAllInvalidDates(t *testing.T) {
	task := FetchTask{City: xian, Start: day("2024-04-01"), End: day("2024-04-01")}
	_, _, err := normalize(task, []pollen.RawRecord{{Date: "??"}, {Date: ""}})
	if !errors.Is(err, providers.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}

	obs, _, err := normalize(task, nil)
	if err != nil || len(obs) != 0 {
		t.Fatalf("expected empty payload to normalize without error, got %v (%d)", err, len(obs))
	}
}
