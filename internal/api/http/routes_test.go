package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/pollen-sync/internal/pollen"
	"github.com/i474232898/pollen-sync/internal/store"
	"github.com/i474232898/pollen-sync/internal/syncer"
)

type fakeService struct {
	lastSpec syncer.WindowSpec
	syncRep  *syncer.Report
	syncErr  error
	obs      []pollen.Observation
	obsErr   error
	last     *syncer.Report
}

func (f *fakeService) Sync(ctx context.Context, spec syncer.WindowSpec) (*syncer.Report, error) {
	f.lastSpec = spec
	return f.syncRep, f.syncErr
}

func (f *fakeService) LastReport() (*syncer.Report, bool) {
	return f.last, f.last != nil
}

func (f *fakeService) Observations(city string, from, to time.Time) ([]pollen.Observation, error) {
	return f.obs, f.obsErr
}

func (f *fakeService) Distribution(city string) ([]pollen.CityDistribution, error) {
	if f.obsErr != nil {
		return nil, f.obsErr
	}
	return pollen.Distribution(f.obs), nil
}

func newTestApp(svc Service) *fiber.App {
	app := fiber.New()
	RegisterRoutes(app, svc, Options{SyncTimeout: time.Minute, DefaultDays: 30})
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

// TestObservationsValidation verifies that the observations endpoint requires
// a known city and a well-formed, ordered date range.
func TestObservationsValidation(t *testing.T) {
	app := newTestApp(&fakeService{})

	for _, target := range []string{
		"/api/v1/observations?city=xian",
		"/api/v1/observations?city=xian&from=2024-04-01&to=yesterday",
		"/api/v1/observations?city=atlantis&from=2024-04-01&to=2024-04-02",
		"/api/v1/observations?city=xian&from=2024-04-03&to=2024-04-01",
	} {
		resp, _ := do(t, app, httptest.NewRequest(http.MethodGet, target, nil))
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected status %d, got %d", target, http.StatusBadRequest, resp.StatusCode)
		}
	}
}

func TestObservationsFound(t *testing.T) {
	d, _ := pollen.ParseDate("2024-04-01")
	svc := &fakeService{obs: []pollen.Observation{{Date: d, City: "xian", Level: pollen.LevelHigh}}}
	app := newTestApp(svc)

	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/observations?city=xian&from=2024-04-01&to=2024-04-02", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	var payload struct {
		Observations []struct {
			City  string `json:"city"`
			Level string `json:"level"`
		} `json:"observations"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Observations) != 1 || payload.Observations[0].Level != "high" {
		t.Fatalf("unexpected payload %s", body)
	}
}

func TestObservationsNotFound(t *testing.T) {
	app := newTestApp(&fakeService{obsErr: store.ErrNotFound})

	resp, _ := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/observations?from=2024-04-01&to=2024-04-02", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
	resp, _ = do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/distribution", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
}

func TestSyncEndpoint(t *testing.T) {
	svc := &fakeService{syncRep: &syncer.Report{RunID: "r1", Merged: 4}}
	app := newTestApp(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", strings.NewReader(`{"cities":["xian"],"days":7}`))
	req.Header.Set("Content-Type", "application/json")
	resp, body := do(t, app, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusOK, resp.StatusCode, body)
	}
	if svc.lastSpec.Days != 7 || len(svc.lastSpec.Cities) != 1 {
		t.Fatalf("unexpected spec %+v", svc.lastSpec)
	}

	resp, _ = do(t, app, httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil))
	if resp.StatusCode != http.StatusOK || svc.lastSpec.Days != 30 {
		t.Fatalf("expected default window, got status %d spec %+v", resp.StatusCode, svc.lastSpec)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/sync", strings.NewReader(`{"start":"2024-04-01"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = do(t, app, req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d for half window, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

func TestSyncEndpointErrors(t *testing.T) {
	cases := []struct {
		svc  *fakeService
		want int
	}{
		{&fakeService{syncErr: fmt.Errorf("%w: atlantis", pollen.ErrUnknownCity)}, http.StatusBadRequest},
		{&fakeService{syncRep: &syncer.Report{}, syncErr: syncer.ErrTotalSyncFailure}, http.StatusBadGateway},
		{&fakeService{syncRep: &syncer.Report{}, syncErr: fmt.Errorf("save store: disk full")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		app := newTestApp(tc.svc)
		resp, _ := do(t, app, httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil))
		if resp.StatusCode != tc.want {
			t.Fatalf("error %v: expected status %d, got %d", tc.svc.syncErr, tc.want, resp.StatusCode)
		}
	}
}

func TestLastReport(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc)

	resp, _ := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/sync/last", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}

	svc.last = &syncer.Report{RunID: "abc"}
	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/sync/last", nil))
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"runId":"abc"`) {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}
}

func TestCitiesAndMetrics(t *testing.T) {
	app := newTestApp(&fakeService{})

	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/cities", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	var cities []pollen.City
	if err := json.Unmarshal(body, &cities); err != nil || len(cities) != len(pollen.Cities) {
		t.Fatalf("unexpected cities payload (%v)", err)
	}

	resp, _ = do(t, app, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d from /metrics, got %d", http.StatusOK, resp.StatusCode)
	}
}
