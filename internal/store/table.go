package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/i474232898/pollen-sync/internal/logging"
	"github.com/i474232898/pollen-sync/internal/pollen"
)

// encodeRow renders an observation as cells in the order of cols.
func encodeRow(o pollen.Observation, cols []pollen.Column) []string {
	row := make([]string, len(cols))
	for i, c := range cols {
		switch c {
		case pollen.ColDate:
			row[i] = o.Date.Format(pollen.DateLayout)
		case pollen.ColCity:
			row[i] = o.City
		case pollen.ColLevel:
			row[i] = o.Level.String()
		case pollen.ColCityName:
			row[i] = o.CityName
		case pollen.ColDescription:
			row[i] = o.Description
		case pollen.ColColor:
			row[i] = o.Color
		case pollen.ColIndex:
			if o.Index != nil {
				row[i] = strconv.FormatFloat(*o.Index, 'f', -1, 64)
			}
		case pollen.ColSourceCityID:
			row[i] = o.SourceCityID
		}
	}
	return row
}

// decodeTable turns a header row plus data rows into a store. It fails with
// ErrSchema when a required column is missing; individual malformed rows
// are skipped.
func decodeTable(rows [][]string) (*RecordStore, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no header row", ErrSchema)
	}

	header := rows[0]
	index := make(map[pollen.Column]int, len(header))
	known := pollen.NewColumnSet(pollen.AllColumns...)
	cols := make(pollen.ColumnSet)
	for i, name := range header {
		c := pollen.Column(strings.TrimSpace(strings.TrimPrefix(name, bom)))
		if !known.Has(c) {
			logging.Debug().Str("column", string(c)).Msg("store: ignoring unknown column")
			continue
		}
		index[c] = i
		cols[c] = struct{}{}
	}

	var missing []string
	for _, c := range pollen.RequiredColumns {
		if !cols.Has(c) {
			missing = append(missing, string(c))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", ErrSchema, strings.Join(missing, ", "))
	}

	s := newWithColumns(cols)
	skipped := 0
	for n, row := range rows[1:] {
		o, err := decodeRow(row, index)
		if err != nil {
			skipped++
			logging.Debug().Int("row", n+2).Err(err).Msg("store: skipping malformed row")
			continue
		}
		s.rows[o.Key()] = o
	}
	if skipped > 0 {
		logging.Warn().Int("skipped", skipped).Msg("store: malformed rows skipped while loading")
	}
	return s, nil
}

func decodeRow(row []string, index map[pollen.Column]int) (pollen.Observation, error) {
	cell := func(c pollen.Column) string {
		i, ok := index[c]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var o pollen.Observation
	date, err := pollen.ParseDate(cell(pollen.ColDate))
	if err != nil {
		return o, fmt.Errorf("invalid date: %w", err)
	}
	o.Date = date

	o.City = cell(pollen.ColCity)
	if o.City == "" {
		return o, fmt.Errorf("empty city")
	}

	// Unrecognized labels become the sentinel so the day is fetched again.
	o.Level, _ = pollen.ParseLevel(cell(pollen.ColLevel))

	o.CityName = cell(pollen.ColCityName)
	o.Description = cell(pollen.ColDescription)
	o.Color = cell(pollen.ColColor)
	o.SourceCityID = cell(pollen.ColSourceCityID)
	if v := cell(pollen.ColIndex); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			o.Index = &f
		}
	}
	return o, nil
}
