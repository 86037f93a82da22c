package pollen

import "sort"

// LevelCount is the number of observations at a given level.
type LevelCount struct {
	Level Level `json:"level"`
	Count int   `json:"count"`
}

// CityDistribution summarizes a city's observations by level.
type CityDistribution struct {
	City     string       `json:"city"`
	Total    int          `json:"total"`
	Unknown  int          `json:"unknown"`
	Peak     Level        `json:"peak"`
	Levels   []LevelCount `json:"levels"`
	Observed int          `json:"observed"`
}

// Distribution counts observations per level for each city. Cities are
// returned sorted by code; levels in ascending order, zero counts omitted.
func Distribution(obs []Observation) []CityDistribution {
	byCity := make(map[string]map[Level]int)
	for _, o := range obs {
		counts, ok := byCity[o.City]
		if !ok {
			counts = make(map[Level]int)
			byCity[o.City] = counts
		}
		counts[o.Level]++
	}

	out := make([]CityDistribution, 0, len(byCity))
	for city, counts := range byCity {
		d := CityDistribution{City: city, Unknown: counts[LevelUnknown]}
		for _, l := range Levels {
			n := counts[l]
			if n == 0 {
				continue
			}
			d.Levels = append(d.Levels, LevelCount{Level: l, Count: n})
			d.Observed += n
			if l > d.Peak {
				d.Peak = l
			}
		}
		d.Total = d.Observed + d.Unknown
		out = append(out, d)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].City < out[j].City })
	return out
}
