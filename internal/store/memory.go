package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/pollen-sync/internal/pollen"
)

var (
	// ErrNotFound is returned when no observations match a query.
	ErrNotFound = errors.New("no pollen data for query")
)

// ColumnPolicy decides which columns survive a merge whose batch columns
// differ from the store's.
type ColumnPolicy string

const (
	// ColumnsIntersect keeps only columns present in both the store and the batch.
	ColumnsIntersect ColumnPolicy = "intersect"
	// ColumnsUnion keeps every column of either side, leaving gaps empty.
	ColumnsUnion ColumnPolicy = "union"
)

// MergeResult describes what a merge changed.
type MergeResult struct {
	Inserted int
	Replaced int
	// Dropped lists columns removed from the table by an intersecting merge.
	Dropped []pollen.Column
	Columns []pollen.Column
}

// Merged is the number of batch rows applied to the table.
func (r MergeResult) Merged() int {
	return r.Inserted + r.Replaced
}

// RecordStore is the canonical de-duplicated observation table, keyed by
// (date, city). It is safe for concurrent use.
type RecordStore struct {
	mu sync.RWMutex

	// key: date|city
	rows    map[string]pollen.Observation
	columns pollen.ColumnSet
}

// New creates an empty RecordStore.
func New() *RecordStore {
	return &RecordStore{
		rows:    make(map[string]pollen.Observation),
		columns: pollen.NewColumnSet(pollen.RequiredColumns...),
	}
}

// newWithColumns creates an empty store with a fixed column set.
func newWithColumns(cols pollen.ColumnSet) *RecordStore {
	s := New()
	for c := range cols {
		s.columns[c] = struct{}{}
	}
	return s
}

// Len returns the number of observations.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Columns returns the populated columns in persisted order.
func (s *RecordStore) Columns() []pollen.Column {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.columns.Ordered()
}

// ObservedDates returns the dates (YYYY-MM-DD) for which city has a known level.
func (s *RecordStore) ObservedDates(city string) map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]struct{})
	for _, o := range s.rows {
		if o.City == city && o.Level.Known() {
			out[o.Date.Format(pollen.DateLayout)] = struct{}{}
		}
	}
	return out
}

// Get returns the observation for a city on a day.
func (s *RecordStore) Get(date time.Time, city string) (pollen.Observation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.rows[pollen.Key(pollen.Day(date), city)]
	return o, ok
}

// Observations returns every row sorted by (date, city) ascending.
func (s *RecordStore) Observations() []pollen.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

func (s *RecordStore) sortedLocked() []pollen.Observation {
	out := make([]pollen.Observation, 0, len(s.rows))
	for _, o := range s.rows {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].City < out[j].City
	})
	return out
}

// Range returns the observations of a city between from and to (inclusive).
// An empty city matches every city.
func (s *RecordStore) Range(city string, from, to time.Time) ([]pollen.Observation, error) {
	from, to = pollen.Day(from), pollen.Day(to)

	var result []pollen.Observation
	for _, o := range s.Observations() {
		if city != "" && o.City != city {
			continue
		}
		if o.Date.Before(from) || o.Date.After(to) {
			continue
		}
		result = append(result, o)
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// Merge applies a batch with last-write-wins semantics: a row whose key is
// already present replaces the existing row, other rows are inserted.
// Applying the same batch twice leaves the store as after the first time.
func (s *RecordStore) Merge(batch []pollen.Observation, policy ColumnPolicy) MergeResult {
	if len(batch) == 0 {
		return MergeResult{Columns: s.Columns()}
	}

	incoming := pollen.BatchColumns(batch)

	s.mu.Lock()
	defer s.mu.Unlock()

	var res MergeResult
	next := s.columns
	switch {
	case policy == ColumnsUnion:
		next = s.columns.Union(incoming)
	case len(s.rows) == 0:
		next = incoming
	case !s.columns.Equal(incoming):
		next = s.columns.Intersect(incoming)
		res.Dropped = s.columns.Union(incoming).Minus(next).Ordered()
	}

	if !next.Equal(s.columns) {
		s.columns = next
		for k, o := range s.rows {
			s.rows[k] = o.Project(next)
		}
	}

	for _, o := range batch {
		o.Date = pollen.Day(o.Date)
		k := o.Key()
		if _, exists := s.rows[k]; exists {
			res.Replaced++
		} else {
			res.Inserted++
		}
		s.rows[k] = o.Project(s.columns)
	}

	res.Columns = s.columns.Ordered()
	return res
}
