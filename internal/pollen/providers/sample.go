package providers

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/i474232898/pollen-sync/internal/pollen"
)

// sampleWeights skews generated levels towards the low end of the scale.
var sampleWeights = []int{2, 6, 6, 4, 4, 2, 1}

// SampleSource generates plausible observations without network access.
// Output is a pure function of (city, date) so repeated fetches agree.
type SampleSource struct{}

func NewSampleSource() *SampleSource {
	return &SampleSource{}
}

func (s *SampleSource) Name() string {
	return "sample"
}

func (s *SampleSource) Fetch(ctx context.Context, city pollen.City, start, end time.Time) ([]pollen.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []pollen.RawRecord
	for _, d := range pollen.DatesBetween(start, end) {
		h := fnv.New32a()
		h.Write([]byte(city.Code))
		h.Write([]byte(d.Format(pollen.DateLayout)))
		sum := h.Sum32()

		code := pickWeighted(sum)
		level, _ := pollen.LevelFromCode(code)
		index := float64(sum>>8) / float64(1<<24) * 100

		records = append(records, pollen.RawRecord{
			Date:         d.Format(pollen.DateLayout),
			City:         city.Code,
			CityName:     city.Name,
			LevelCode:    &code,
			Description:  level.Description(),
			Color:        level.Color(),
			Index:        &index,
			SourceCityID: city.ID,
		})
	}
	return records, nil
}

func pickWeighted(sum uint32) int {
	total := 0
	for _, w := range sampleWeights {
		total += w
	}
	n := int(sum % uint32(total))
	for code, w := range sampleWeights {
		if n < w {
			return code
		}
		n -= w
	}
	return 0
}
