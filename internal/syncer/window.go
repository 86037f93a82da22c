package syncer

import (
	"errors"
	"fmt"
	"time"

	"github.com/i474232898/pollen-sync/internal/pollen"
)

var errEmptyWindow = errors.New("coverage window is empty")

// Window is the closed date interval [Start, End] a run must cover for each
// of its cities.
type Window struct {
	Start  time.Time
	End    time.Time
	Cities []pollen.City
}

// NewWindow validates and normalizes an explicit window.
func NewWindow(start, end time.Time, cities []pollen.City) (Window, error) {
	start, end = pollen.Day(start), pollen.Day(end)
	if end.Before(start) {
		return Window{}, fmt.Errorf("%w: end %s before start %s", errEmptyWindow,
			end.Format(pollen.DateLayout), start.Format(pollen.DateLayout))
	}
	if len(cities) == 0 {
		return Window{}, fmt.Errorf("%w: no cities", errEmptyWindow)
	}
	return Window{Start: start, End: end, Cities: cities}, nil
}

// LastDays builds the window ending today and starting days before today,
// matching how the source's relative date range is defined.
func LastDays(days int, now time.Time, cities []pollen.City) (Window, error) {
	if days < 0 {
		return Window{}, fmt.Errorf("days must not be negative, got %d", days)
	}
	end := pollen.Day(now)
	return NewWindow(end.AddDate(0, 0, -days), end, cities)
}

// Dates expands the window into its calendar days.
func (w Window) Dates() []time.Time {
	return pollen.DatesBetween(w.Start, w.End)
}

// CityCodes returns the window's city codes in request order.
func (w Window) CityCodes() []string {
	out := make([]string, len(w.Cities))
	for i, c := range w.Cities {
		out[i] = c.Code
	}
	return out
}

// WindowSpec is the caller-facing form of a window: city codes plus either
// a relative day count or an explicit start/end pair.
type WindowSpec struct {
	Cities []string
	Days   int
	Start  time.Time
	End    time.Time
}

// Resolve turns the WindowSpec into a Window. An explicit pair takes precedence
// over Days; an empty city list means every catalog city.
func (s WindowSpec) Resolve(now time.Time) (Window, error) {
	cities, err := pollen.ResolveCities(s.Cities)
	if err != nil {
		return Window{}, err
	}

	hasStart, hasEnd := !s.Start.IsZero(), !s.End.IsZero()
	switch {
	case hasStart && hasEnd:
		return NewWindow(s.Start, s.End, cities)
	case hasStart || hasEnd:
		return Window{}, errors.New("start and end must be given together")
	}
	return LastDays(s.Days, now, cities)
}
