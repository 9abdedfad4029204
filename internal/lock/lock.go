// Package lock provides named, non-blocking, cross-process advisory locks
// backed by files. The OS releases a lock when its holder's descriptor is
// closed, including on crash.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// Job lock names.
const (
	CronFetch         = "cron_fetch"
	CronDaily         = "cron_daily"
	CronExternal      = "cron_external"
	FrontCacheRefresh = "front_cache_refresh"
)

var validName = regexp.MustCompile(`^[a-z0-9_.-]+$`)

// Locker creates lock files under one directory.
type Locker struct {
	dir string
}

// New returns a Locker rooted at dir, creating it if needed.
func New(dir string) (*Locker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir %s: %w", dir, err)
	}
	return &Locker{dir: dir}, nil
}

// Handle is a held lock. Release it exactly once.
type Handle struct {
	name string
	f    *os.File
}

func (h *Handle) Name() string { return h.name }

// TryAcquire attempts to take the named lock without blocking. ok=false means
// another holder has it; err is reserved for an unusable lock file.
func (l *Locker) TryAcquire(name string) (h *Handle, ok bool, err error) {
	if !validName.MatchString(name) {
		return nil, false, fmt.Errorf("invalid lock name %q", name)
	}
	path := filepath.Join(l.dir, name+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open lock file %s: %w", path, err)
	}

	locked, err := tryLock(f)
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("lock %s: %w", name, err)
	}
	if !locked {
		f.Close()
		return nil, false, nil
	}
	return &Handle{name: name, f: f}, true, nil
}

// Release unlocks and closes the lock file.
func (h *Handle) Release() error {
	if h == nil || h.f == nil {
		return nil
	}
	uerr := unlock(h.f)
	cerr := h.f.Close()
	h.f = nil
	return errors.Join(uerr, cerr)
}
