package httpapi

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/i474232898/station-dashboard/internal/cache"
	"github.com/i474232898/station-dashboard/internal/jobs"
	"github.com/i474232898/station-dashboard/internal/lock"
	"github.com/i474232898/station-dashboard/internal/store"
	"github.com/i474232898/station-dashboard/internal/weather"
)

var validate = validator.New()

const sessionCookie = "sid"

// CronRunner executes authenticated job requests.
type CronRunner interface {
	Run(ctx context.Context, job jobs.Job, token string) jobs.Outcome
}

// CacheResolver resolves every cached family for a position.
type CacheResolver interface {
	Resolve(ctx context.Context, coords *weather.Coordinates, opts cache.Options) (cache.Snapshot, error)
}

// ReadingReader serves stored station readings.
type ReadingReader interface {
	GetLatest(ctx context.Context) (weather.Reading, error)
	GetRange(ctx context.Context, from, to time.Time) ([]weather.Reading, error)
}

// Positioner supplies the current station coordinates.
type Positioner interface {
	Current(ctx context.Context) (*weather.Coordinates, error)
}

// Deps are the collaborators the routes need.
type Deps struct {
	Runner   CronRunner
	Caches   CacheResolver
	Readings ReadingReader
	Position Positioner
	Settings store.SettingsStore
	Locker   *lock.Locker

	// RefreshSecret signs session refresh tokens. Empty disables refresh.
	RefreshSecret string
	// SeaTempActive lets dashboard views refresh the sea temperature.
	SeaTempActive bool

	Logger zerolog.Logger
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	app.Get("/cron/:job", func(c *fiber.Ctx) error {
		job, err := jobs.ParseJob(c.Params("job"))
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		out := d.Runner.Run(c.UserContext(), job, cronToken(c))
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.Status(out.Code).SendString(out.Body)
	})

	api := app.Group("/api")

	api.Get("/dashboard", func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		sid := sessionID(c)

		coords, err := d.Position.Current(ctx)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read station position")
		}
		snap, err := d.Caches.Resolve(ctx, coords, cache.Options{SeaTempRemote: d.SeaTempActive})
		if err != nil {
			d.Logger.Error().Err(err).Msg("dashboard cache resolve failed")
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read cached data")
		}

		var latest *weather.Reading
		r, err := d.Readings.GetLatest(ctx)
		switch {
		case err == nil:
			latest = &r
		case !errors.Is(err, store.ErrNotFound):
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch latest reading")
		}

		resp := fiber.Map{
			"position": coords,
			"reading":  latest,
			"cache":    snap,
		}
		if d.RefreshSecret != "" {
			resp["refresh_token"] = RefreshToken(d.RefreshSecret, sid)
		}
		return c.JSON(resp)
	})

	refresh := newRefresher(d)
	api.Get("/cache/refresh", refresh.handle)
	api.Post("/cache/refresh", refresh.handle)

	api.Get("/readings/latest", func(c *fiber.Ctx) error {
		r, err := d.Readings.GetLatest(c.UserContext())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no readings stored yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch latest reading")
		}
		return c.JSON(r)
	})

	api.Get("/readings", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		readings, err := d.Readings.GetRange(c.UserContext(), req.From, req.To)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch readings")
		}
		if readings == nil {
			readings = []weather.Reading{}
		}
		return c.JSON(fiber.Map{
			"from":     req.From,
			"to":       req.To,
			"readings": readings,
		})
	})
}

// cronToken reads the key from a bearer header, falling back to ?key=.
func cronToken(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return c.Query("key")
}

// sessionID returns the sid cookie, issuing one when absent.
func sessionID(c *fiber.Ctx) string {
	if sid := c.Cookies(sessionCookie); sid != "" {
		return sid
	}
	sid := uuid.NewString()
	c.Cookie(&fiber.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return sid
}

// rangeQuery holds query parameters for the readings endpoint.
type rangeQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (q *rangeQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	q.From = from
	q.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
