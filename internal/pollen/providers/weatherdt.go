package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/pollen-sync/internal/pollen"
)

// DefaultWeatherDTURL is the pollen index endpoint of the China Weather graph service.
const DefaultWeatherDTURL = "https://graph.weatherdt.com/ty/pollen/v2/hfindex.html"

const maxPayloadBytes = 4 << 20

// WeatherDTSource implements pollen.Source for the weatherdt pollen index.
type WeatherDTSource struct {
	name    string
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherDTSource(client *http.Client, baseURL string) *WeatherDTSource {
	if baseURL == "" {
		baseURL = DefaultWeatherDTURL
	}
	return &WeatherDTSource{
		name:    "weatherdt",
		baseURL: baseURL,
		client:  client,
		circuit: newBreaker("weatherdt"),
	}
}

func (s *WeatherDTSource) Name() string {
	return s.name
}

// Fetch requests the pollen index of one city for the closed date range.
func (s *WeatherDTSource) Fetch(ctx context.Context, city pollen.City, start, end time.Time) ([]pollen.RawRecord, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("eletype", "1")
		values.Set("city", city.Code)
		values.Set("start", start.Format(pollen.DateLayout))
		values.Set("end", end.Format(pollen.DateLayout))
		values.Set("predictFlag", "true")

		req, err := http.NewRequest(http.MethodGet, s.baseURL+"?"+values.Encode(), nil)
		if err != nil {
			return nil, err
		}
		// The endpoint rejects requests that do not look like they come from the web page.
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.110 Safari/537.36")
		req.Header.Set("Referer", "https://www.weather.com.cn/forecast/hf_index.shtml?id="+city.ID)
		req.Header.Set("Accept", "*/*")
		req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
		return req, nil
	}

	resp, err := doRequest(ctx, s.client, s.circuit, buildRequest)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, err
	}
	return decodeWeatherDT(body)
}

type weatherDTEntry struct {
	AddTime  string    `json:"addTime"`
	City     string    `json:"city"`
	CityCode string    `json:"cityCode"`
	Level    string    `json:"level"`
	LevelMsg string    `json:"levelMsg"`
	Color    string    `json:"color"`
	Code     flexFloat `json:"levelCode"`
	EleNum   flexFloat `json:"elenum"`
}

type weatherDTPayload struct {
	DataList *[]weatherDTEntry `json:"dataList"`
}

// decodeWeatherDT accepts plain JSON or a JSONP body such as `cb({...})`.
func decodeWeatherDT(body []byte) ([]pollen.RawRecord, error) {
	body = unwrapJSONP(bytes.TrimSpace(body))

	var payload weatherDTPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if payload.DataList == nil {
		return nil, fmt.Errorf("%w: missing dataList", ErrParse)
	}

	records := make([]pollen.RawRecord, 0, len(*payload.DataList))
	for _, e := range *payload.DataList {
		r := pollen.RawRecord{
			Date:         e.AddTime,
			City:         e.CityCode,
			CityName:     e.City,
			Level:        e.Level,
			Description:  e.LevelMsg,
			Color:        e.Color,
			SourceCityID: e.CityCode,
		}
		if e.Code.set {
			code := int(e.Code.v)
			r.LevelCode = &code
		}
		if e.EleNum.set {
			idx := e.EleNum.v
			r.Index = &idx
		}
		records = append(records, r)
	}
	return records, nil
}

func unwrapJSONP(b []byte) []byte {
	if len(b) == 0 || b[0] == '{' || b[0] == '[' {
		return b
	}
	open := bytes.IndexByte(b, '(')
	end := bytes.LastIndexByte(b, ')')
	if open < 0 || end <= open {
		return b
	}
	return bytes.TrimSpace(b[open+1 : end])
}

// flexFloat decodes a number that the source sometimes sends as a string.
type flexFloat struct {
	v   float64
	set bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	f.v, f.set = v, true
	return nil
}
