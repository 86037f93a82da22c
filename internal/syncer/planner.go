package syncer

import (
	"fmt"
	"sort"
	"time"

	"github.com/i474232898/pollen-sync/internal/pollen"
)

// PlanStrategy selects how non-contiguous gaps are split into requests.
type PlanStrategy string

const (
	// PlanPerDate requests each missing date on its own when a city's gaps
	// are not contiguous.
	PlanPerDate PlanStrategy = "per-date"
	// PlanRuns requests each maximal contiguous run of missing dates.
	PlanRuns PlanStrategy = "runs"
)

// ParsePlanStrategy accepts the strategy names; empty means PlanPerDate.
func ParsePlanStrategy(s string) (PlanStrategy, error) {
	switch PlanStrategy(s) {
	case "", PlanPerDate:
		return PlanPerDate, nil
	case PlanRuns:
		return PlanRuns, nil
	}
	return "", fmt.Errorf("unknown plan strategy %q", s)
}

// FetchTask is one planned request: a contiguous span of missing dates for one city.
type FetchTask struct {
	City  pollen.City
	Start time.Time
	End   time.Time
}

// Days is the number of calendar days the task spans.
func (t FetchTask) Days() int {
	return int(t.End.Sub(t.Start).Hours()/24) + 1
}

func (t FetchTask) String() string {
	return fmt.Sprintf("%s %s..%s", t.City.Code, t.Start.Format(pollen.DateLayout), t.End.Format(pollen.DateLayout))
}

// Plan groups each city's missing dates into the fewest requests the
// strategy allows. A contiguous set always becomes a single task. Tasks are
// ordered by city code, then start date.
func Plan(gaps map[pollen.City][]time.Time, strategy PlanStrategy) []FetchTask {
	cities := make([]pollen.City, 0, len(gaps))
	for c := range gaps {
		cities = append(cities, c)
	}
	sort.Slice(cities, func(i, j int) bool { return cities[i].Code < cities[j].Code })

	var tasks []FetchTask
	for _, city := range cities {
		dates := uniqueSortedDays(gaps[city])
		if len(dates) == 0 {
			continue
		}

		first, last := dates[0], dates[len(dates)-1]
		if contiguous(first, last, len(dates)) {
			tasks = append(tasks, FetchTask{City: city, Start: first, End: last})
			continue
		}

		if strategy == PlanRuns {
			tasks = append(tasks, runs(city, dates)...)
			continue
		}
		for _, d := range dates {
			tasks = append(tasks, FetchTask{City: city, Start: d, End: d})
		}
	}
	return tasks
}

func contiguous(first, last time.Time, count int) bool {
	return int(last.Sub(first).Hours()/24)+1 == count
}

// runs splits sorted dates into maximal contiguous spans.
func runs(city pollen.City, dates []time.Time) []FetchTask {
	var out []FetchTask
	start := dates[0]
	prev := dates[0]
	for _, d := range dates[1:] {
		if d.Equal(prev.AddDate(0, 0, 1)) {
			prev = d
			continue
		}
		out = append(out, FetchTask{City: city, Start: start, End: prev})
		start, prev = d, d
	}
	return append(out, FetchTask{City: city, Start: start, End: prev})
}

func uniqueSortedDays(dates []time.Time) []time.Time {
	seen := make(map[time.Time]bool, len(dates))
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		d = pollen.Day(d)
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
