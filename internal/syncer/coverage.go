package syncer

import (
	"time"

	"github.com/i474232898/pollen-sync/internal/pollen"
)

// ObservedSet is the part of a store the coverage analysis reads.
type ObservedSet interface {
	ObservedDates(city string) map[string]struct{}
}

// Gaps returns, for every city of the window, the sorted dates that have no
// known observation. Cities without gaps are omitted. A nil store counts as
// empty. Pure: no I/O and no mutation.
func Gaps(s ObservedSet, w Window) map[pollen.City][]time.Time {
	dates := w.Dates()
	gaps := make(map[pollen.City][]time.Time)

	for _, city := range w.Cities {
		var observed map[string]struct{}
		if s != nil {
			observed = s.ObservedDates(city.Code)
		}

		var missing []time.Time
		for _, d := range dates {
			if _, ok := observed[d.Format(pollen.DateLayout)]; !ok {
				missing = append(missing, d)
			}
		}
		if len(missing) > 0 {
			gaps[city] = missing
		}
	}
	return gaps
}

// CountMissing sums the missing dates over all cities.
func CountMissing(gaps map[pollen.City][]time.Time) int {
	n := 0
	for _, dates := range gaps {
		n += len(dates)
	}
	return n
}
