// Package jobs runs the scheduled station jobs, each under its own process
// lock.
package jobs

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/i474232898/station-dashboard/internal/cache"
	"github.com/i474232898/station-dashboard/internal/lock"
	"github.com/i474232898/station-dashboard/internal/weather"
)

// Job names a scheduled task.
type Job string

const (
	JobFetch    Job = "fetch"
	JobDaily    Job = "daily"
	JobExternal Job = "external"
)

// SlowRun is the duration above which a successful run logs a warning.
const SlowRun = 10 * time.Second

var ErrUnknownJob = errors.New("unknown job")

// ParseJob validates a job name.
func ParseJob(s string) (Job, error) {
	switch j := Job(strings.ToLower(s)); j {
	case JobFetch, JobDaily, JobExternal:
		return j, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownJob, s)
}

func (j Job) lockName() string {
	switch j {
	case JobFetch:
		return lock.CronFetch
	case JobDaily:
		return lock.CronDaily
	default:
		return lock.CronExternal
	}
}

// Outcome is the HTTP-shaped result of a run.
type Outcome struct {
	Code     int
	Body     string
	RunID    string
	Duration time.Duration
}

// Ingestor is the station ingestion side of weather.Service.
type Ingestor interface {
	FetchAndStore(ctx context.Context) (weather.FetchResult, error)
	RecomputeDay(ctx context.Context, now time.Time) (int, error)
}

// SeaTempResolver is the sea temperature cache family.
type SeaTempResolver interface {
	Resolve(ctx context.Context, coords *weather.Coordinates, allowRemote bool) (cache.Result[weather.SeaTemperature], error)
}

// Positioner supplies the current station coordinates.
type Positioner interface {
	Current(ctx context.Context) (*weather.Coordinates, error)
}

// Runner drives AUTH_CHECK → LOCK_ACQUIRE → RUNNING → SUCCESS|FAILURE →
// LOCK_RELEASE for every job.
type Runner struct {
	key      string
	locker   *lock.Locker
	ingestor Ingestor
	seaTemp  SeaTempResolver
	position Positioner
	now      func() time.Time
	log      zerolog.Logger
}

func NewRunner(key string, locker *lock.Locker, ingestor Ingestor, seaTemp SeaTempResolver, position Positioner, logger zerolog.Logger) *Runner {
	return &Runner{
		key:      key,
		locker:   locker,
		ingestor: ingestor,
		seaTemp:  seaTemp,
		position: position,
		now:      time.Now,
		log:      logger,
	}
}

// Authorize compares token with the cron key in constant time. An empty
// configured key rejects everything.
func (r *Runner) Authorize(token string) bool {
	if r.key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(r.key)) == 1
}

// Run authenticates the caller, then executes the job.
func (r *Runner) Run(ctx context.Context, job Job, token string) Outcome {
	if !r.Authorize(token) {
		return Outcome{Code: http.StatusForbidden, Body: "Forbidden\n"}
	}
	return r.Execute(ctx, job)
}

// Execute runs an already authorized job.
func (r *Runner) Execute(ctx context.Context, job Job) Outcome {
	runID := uuid.NewString()
	log := r.log.With().Str("job", string(job)).Str("run_id", runID).Logger()

	h, ok, err := r.locker.TryAcquire(job.lockName())
	if err != nil {
		log.Error().Err(err).Msg("lock unavailable")
		return Outcome{Code: http.StatusInternalServerError, Body: "ERR " + oneLine(err) + "\n", RunID: runID}
	}
	if !ok {
		if job == JobFetch {
			log.Warn().Msg("previous run still in progress")
		}
		return Outcome{Code: http.StatusTooManyRequests, Body: "Busy\n", RunID: runID}
	}
	defer func() {
		if err := h.Release(); err != nil {
			log.Error().Err(err).Msg("lock release failed")
		}
	}()

	start := time.Now()
	marker, fields, err := r.run(ctx, job)
	took := time.Since(start)

	if err != nil {
		log.Error().Err(err).Dur("took", took).Msg("job failed")
		return Outcome{Code: http.StatusInternalServerError, Body: "ERR " + oneLine(err) + "\n", RunID: runID, Duration: took}
	}

	ev := log.Info().Dur("took", took)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg("job done")
	if took > SlowRun {
		log.Warn().Dur("took", took).Dur("target", SlowRun).Msg("job slower than target")
	}
	return Outcome{Code: http.StatusOK, Body: "OK " + marker + "\n", RunID: runID, Duration: took}
}

// run executes the job body; panics become errors.
func (r *Runner) run(ctx context.Context, job Job) (marker string, fields map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	switch job {
	case JobFetch:
		res, err := r.ingestor.FetchAndStore(ctx)
		if err != nil {
			return "", nil, err
		}
		return res.Reading.Key(), map[string]any{
			"datetime":         res.Reading.Key(),
			"position_updated": res.PositionUpdated,
		}, nil

	case JobDaily:
		now := r.now()
		n, err := r.ingestor.RecomputeDay(ctx, now)
		if err != nil {
			return "", nil, err
		}
		day := now.Format("2006-01-02")
		return fmt.Sprintf("%s rows=%d", day, n), map[string]any{"day": day, "rows": n}, nil

	case JobExternal:
		coords, err := r.position.Current(ctx)
		if err != nil {
			return "", nil, err
		}
		res, err := r.seaTemp.Resolve(ctx, coords, true)
		if err != nil {
			return "", nil, err
		}
		status := string(res.Reason)
		if res.Available {
			status = "available"
		}
		return "sea_temp=" + status, map[string]any{"sea_temp": status}, nil
	}
	return "", nil, fmt.Errorf("%w: %q", ErrUnknownJob, job)
}

func oneLine(err error) string {
	return strings.Join(strings.Fields(err.Error()), " ")
}
