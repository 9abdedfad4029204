package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/station-dashboard/internal/cache"
	"github.com/i474232898/station-dashboard/internal/lock"
	"github.com/i474232898/station-dashboard/internal/store"
)

const (
	// RefreshInterval is the minimum spacing between front-end refreshes,
	// shared by every session.
	RefreshInterval = 300 * time.Second

	refreshLastKey = "front_cache_refresh.last"
	refreshTimeout = 60 * time.Second
)

// RefreshToken binds a refresh permission to one session id.
func RefreshToken(secret, sid string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("cache-refresh:" + sid))
	return hex.EncodeToString(mac.Sum(nil))
}

type refresher struct {
	deps Deps
	now  func() time.Time
}

func newRefresher(d Deps) *refresher {
	return &refresher{deps: d, now: time.Now}
}

func (r *refresher) authorized(c *fiber.Ctx) bool {
	if r.deps.RefreshSecret == "" {
		return false
	}
	sid := c.Cookies(sessionCookie)
	token := c.Query("token")
	if sid == "" || token == "" {
		return false
	}
	want := RefreshToken(r.deps.RefreshSecret, sid)
	return hmac.Equal([]byte(token), []byte(want))
}

func (r *refresher) handle(c *fiber.Ctx) error {
	if !r.authorized(c) {
		return fiber.NewError(fiber.StatusForbidden, "invalid refresh token")
	}
	log := r.deps.Logger

	h, ok, err := r.deps.Locker.TryAcquire(lock.FrontCacheRefresh)
	if err != nil {
		log.Error().Err(err).Msg("refresh lock unavailable")
		return fiber.NewError(fiber.StatusInternalServerError, "refresh unavailable")
	}
	if !ok {
		return tooEarly(c, RefreshInterval)
	}
	defer func() {
		if err := h.Release(); err != nil {
			log.Error().Err(err).Msg("refresh lock release failed")
		}
	}()

	// The refresh outlives a client that hangs up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.UserContext()), refreshTimeout)
	defer cancel()

	now := r.now()
	last, found, err := store.GetFloat(ctx, r.deps.Settings, refreshLastKey)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to read refresh marker")
	}
	if found {
		if wait := time.Unix(int64(last), 0).Add(RefreshInterval).Sub(now); wait > 0 {
			return tooEarly(c, wait)
		}
	}
	if err := r.deps.Settings.Set(ctx, refreshLastKey, strconv.FormatInt(now.Unix(), 10)); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to write refresh marker")
	}

	coords, err := r.deps.Position.Current(ctx)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to read station position")
	}
	start := time.Now()
	snap, err := r.deps.Caches.Resolve(ctx, coords, cache.Options{AllowRemote: true, SeaTempRemote: true})
	if err != nil {
		log.Error().Err(err).Msg("cache refresh failed")
		return fiber.NewError(fiber.StatusInternalServerError, "cache refresh failed")
	}
	summary := snap.Summary()
	log.Info().Dur("took", time.Since(start)).Interface("summary", summary).Msg("cache refreshed")

	return c.JSON(fiber.Map{
		"refreshed_at": now.UTC(),
		"summary":      summary,
	})
}

func tooEarly(c *fiber.Ctx, wait time.Duration) error {
	secs := int(wait.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":       true,
		"message":     "refresh too early",
		"retry_after": secs,
	})
}
