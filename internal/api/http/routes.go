package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/pollen-sync/internal/pollen"
	"github.com/i474232898/pollen-sync/internal/store"
	"github.com/i474232898/pollen-sync/internal/syncer"
)

var validate = validator.New()

// Service is the part of the sync service the routes use.
type Service interface {
	Sync(ctx context.Context, spec syncer.WindowSpec) (*syncer.Report, error)
	LastReport() (*syncer.Report, bool)
	Observations(city string, from, to time.Time) ([]pollen.Observation, error)
	Distribution(city string) ([]pollen.CityDistribution, error)
}

// Options tune the sync trigger endpoint.
type Options struct {
	// SyncTimeout bounds a sync triggered over HTTP.
	SyncTimeout time.Duration
	// DefaultDays is used when a request names neither days nor dates.
	DefaultDays int
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service Service, opts Options) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/api/v1")

	v1.Get("/cities", func(c *fiber.Ctx) error {
		return c.JSON(pollen.Cities)
	})

	v1.Get("/observations", func(c *fiber.Ctx) error {
		var q observationsQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		obs, err := service.Observations(q.City, q.From, q.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no pollen data for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read pollen data")
		}

		return c.JSON(fiber.Map{
			"city":         q.City,
			"from":         q.From.Format(pollen.DateLayout),
			"to":           q.To.Format(pollen.DateLayout),
			"observations": obs,
		})
	})

	v1.Get("/distribution", func(c *fiber.Ctx) error {
		city := strings.ToLower(c.Query("city"))
		if city != "" {
			if _, ok := pollen.LookupCity(city); !ok {
				return fiber.NewError(fiber.StatusBadRequest, "unknown city")
			}
		}

		dist, err := service.Distribution(city)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no pollen data")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read pollen data")
		}
		return c.JSON(dist)
	})

	v1.Post("/sync", func(c *fiber.Ctx) error {
		var req syncRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
			}
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		spec, err := req.toSpec(opts.DefaultDays)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		ctx, cancel := context.WithTimeout(context.Background(), opts.SyncTimeout)
		defer cancel()

		rep, err := service.Sync(ctx, spec)
		switch {
		case errors.Is(err, pollen.ErrUnknownCity):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, syncer.ErrTotalSyncFailure):
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
				"report":  rep,
			})
		case err != nil && rep == nil:
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(rep)
	})

	v1.Get("/sync/last", func(c *fiber.Ctx) error {
		rep, ok := service.LastReport()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no sync has run yet")
		}
		return c.JSON(rep)
	})
}

// observationsQuery holds query parameters for the observations endpoint.
type observationsQuery struct {
	City string    `validate:"omitempty,lowercase"`
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (q *observationsQuery) bind(c *fiber.Ctx) error {
	q.City = strings.ToLower(c.Query("city"))
	if q.City != "" {
		if _, ok := pollen.LookupCity(q.City); !ok {
			return errors.New("unknown city")
		}
	}

	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := pollen.ParseDate(fromStr)
	if err != nil {
		return errors.New("invalid from date; use YYYY-MM-DD")
	}
	to, err := pollen.ParseDate(toStr)
	if err != nil {
		return errors.New("invalid to date; use YYYY-MM-DD")
	}

	q.From, q.To = from, to
	return nil
}

// syncRequest is the body of POST /api/v1/sync.
type syncRequest struct {
	Cities []string `json:"cities"`
	Days   int      `json:"days" validate:"gte=0,lte=366"`
	Start  string   `json:"start" validate:"omitempty,datetime=2006-01-02"`
	End    string   `json:"end" validate:"omitempty,datetime=2006-01-02"`
}

func (r syncRequest) toSpec(defaultDays int) (syncer.WindowSpec, error) {
	spec := syncer.WindowSpec{Cities: r.Cities, Days: r.Days}
	if spec.Days == 0 {
		spec.Days = defaultDays
	}
	if r.Start != "" || r.End != "" {
		if r.Start == "" || r.End == "" {
			return spec, errors.New("start and end must be given together")
		}
		spec.Start, _ = pollen.ParseDate(r.Start)
		spec.End, _ = pollen.ParseDate(r.End)
	}
	return spec, nil
}
