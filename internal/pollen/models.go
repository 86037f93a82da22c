package pollen

import (
	"sort"
	"time"
)

// DateLayout is the ISO 8601 calendar date format used for keys and persisted files.
const DateLayout = "2006-01-02"

// Column names a populated field of an Observation in a tabular store.
type Column string

const (
	ColDate         Column = "date"
	ColCity         Column = "city"
	ColLevel        Column = "level"
	ColCityName     Column = "city_name"
	ColDescription  Column = "level_description"
	ColColor        Column = "color"
	ColIndex        Column = "index"
	ColSourceCityID Column = "source_city_id"
)

// AllColumns lists every known column in persisted order.
var AllColumns = []Column{
	ColDate, ColCity, ColLevel, ColCityName, ColDescription, ColColor, ColIndex, ColSourceCityID,
}

// RequiredColumns must be present in any valid store file.
var RequiredColumns = []Column{ColDate, ColCity, ColLevel}

// ColumnSet is the set of columns actually populated in a table or batch.
type ColumnSet map[Column]struct{}

// NewColumnSet builds a set from the given columns.
func NewColumnSet(cols ...Column) ColumnSet {
	s := make(ColumnSet, len(cols))
	for _, c := range cols {
		s[c] = struct{}{}
	}
	return s
}

func (s ColumnSet) Has(c Column) bool {
	_, ok := s[c]
	return ok
}

// Equal reports whether both sets hold the same columns.
func (s ColumnSet) Equal(o ColumnSet) bool {
	if len(s) != len(o) {
		return false
	}
	for c := range s {
		if !o.Has(c) {
			return false
		}
	}
	return true
}

// Intersect returns the columns present in both sets.
func (s ColumnSet) Intersect(o ColumnSet) ColumnSet {
	out := make(ColumnSet)
	for c := range s {
		if o.Has(c) {
			out[c] = struct{}{}
		}
	}
	return out
}

// Union returns the columns present in either set.
func (s ColumnSet) Union(o ColumnSet) ColumnSet {
	out := make(ColumnSet, len(s)+len(o))
	for c := range s {
		out[c] = struct{}{}
	}
	for c := range o {
		out[c] = struct{}{}
	}
	return out
}

// Minus returns the columns of s that are not in o.
func (s ColumnSet) Minus(o ColumnSet) ColumnSet {
	out := make(ColumnSet)
	for c := range s {
		if !o.Has(c) {
			out[c] = struct{}{}
		}
	}
	return out
}

// Ordered returns the set's columns in persisted order. Columns outside
// AllColumns are appended sorted by name.
func (s ColumnSet) Ordered() []Column {
	out := make([]Column, 0, len(s))
	known := make(map[Column]bool, len(AllColumns))
	for _, c := range AllColumns {
		known[c] = true
		if s.Has(c) {
			out = append(out, c)
		}
	}
	var extra []Column
	for c := range s {
		if !known[c] {
			extra = append(extra, c)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// Observation is one pollen reading for a city on a calendar day.
// (Date, City) is the natural key.
type Observation struct {
	Date  time.Time `json:"date"` // UTC midnight
	City  string    `json:"city"`
	Level Level     `json:"level"`

	// Pass-through fields; only meaningful when the matching column is populated.
	CityName     string   `json:"cityName,omitempty"`
	Description  string   `json:"levelDescription,omitempty"`
	Color        string   `json:"color,omitempty"`
	Index        *float64 `json:"index,omitempty"`
	SourceCityID string   `json:"sourceCityId,omitempty"`
}

// Key returns the canonical (date, city) key for indexing this observation.
func (o Observation) Key() string {
	return Key(o.Date, o.City)
}

// Key builds the store key for a city on a day.
func Key(date time.Time, city string) string {
	return date.Format(DateLayout) + "|" + city
}

// Project clears every optional field whose column is not in cols.
func (o Observation) Project(cols ColumnSet) Observation {
	if !cols.Has(ColCityName) {
		o.CityName = ""
	}
	if !cols.Has(ColDescription) {
		o.Description = ""
	}
	if !cols.Has(ColColor) {
		o.Color = ""
	}
	if !cols.Has(ColIndex) {
		o.Index = nil
	}
	if !cols.Has(ColSourceCityID) {
		o.SourceCityID = ""
	}
	return o
}

// Columns returns the columns this observation populates.
func (o Observation) Columns() ColumnSet {
	cols := NewColumnSet(RequiredColumns...)
	if o.CityName != "" {
		cols[ColCityName] = struct{}{}
	}
	if o.Description != "" {
		cols[ColDescription] = struct{}{}
	}
	if o.Color != "" {
		cols[ColColor] = struct{}{}
	}
	if o.Index != nil {
		cols[ColIndex] = struct{}{}
	}
	if o.SourceCityID != "" {
		cols[ColSourceCityID] = struct{}{}
	}
	return cols
}

// BatchColumns returns the union of columns populated by any observation in the batch.
func BatchColumns(batch []Observation) ColumnSet {
	cols := NewColumnSet(RequiredColumns...)
	for _, o := range batch {
		for c := range o.Columns() {
			cols[c] = struct{}{}
		}
	}
	return cols
}

// Day truncates t to its calendar day at UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses an ISO calendar date. A longer timestamp is accepted as long
// as it starts with YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// DatesBetween expands the closed interval [start, end] into calendar days.
// It returns nil when end is before start.
func DatesBetween(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return nil
	}
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}
