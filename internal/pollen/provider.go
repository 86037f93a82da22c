package pollen

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownCity is returned when a requested city code is not in the catalog.
var ErrUnknownCity = errors.New("unknown city")

// RawRecord is a single entry as returned by a source, before normalization.
// Fields are kept as the source sent them.
type RawRecord struct {
	Date         string
	City         string
	CityName     string
	Level        string
	LevelCode    *int
	Description  string
	Color        string
	Index        *float64
	SourceCityID string
}

// Source abstracts the remote pollen data source. One call is one attempt;
// callers own retries and pacing. Implementations must be safe to retry.
type Source interface {
	Name() string
	Fetch(ctx context.Context, city City, start, end time.Time) ([]RawRecord, error)
}
