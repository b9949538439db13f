package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/52poke/sitecache/internal/cache"
	"github.com/52poke/sitecache/internal/lock"
	"github.com/52poke/sitecache/internal/origin"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const (
	activateLockKey  = "lock:activate"
	installFanOut    = 8
	lockPollInterval = 50 * time.Millisecond
)

var (
	ErrLockBusy   = errors.New("lifecycle lock busy")
	ErrNotWaiting = errors.New("worker is not waiting")
)

// Registry tracks the active worker and drives install and activation.
type Registry struct {
	Storage cache.Storage
	Origin  origin.Fetcher
	Locker  lock.Locker
	Prefix  string
	LockTTL time.Duration
	Logger  *log.Logger

	mu     sync.Mutex
	local  *lock.LocalLocker
	active atomic.Pointer[Worker]
}

// Active returns the worker currently serving, or nil before the first
// successful activation.
func (r *Registry) Active() *Worker {
	return r.active.Load()
}

// Register installs version and activates it right away. Registering the
// version that is already active returns the active worker unchanged.
func (r *Registry) Register(ctx context.Context, version string, manifest []string) (*Worker, error) {
	if cur := r.Active(); cur != nil && cur.Version == version {
		return cur, nil
	}
	w, err := r.Install(ctx, version, manifest)
	if err != nil {
		return nil, err
	}
	if err := r.Activate(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Install opens the bucket for version and fills it with every manifest
// path. Any 2xx response is accepted. Any failed fetch or other status aborts the whole install: the worker ends up
// Redundant and the active worker, if any, keeps serving.
func (r *Registry) Install(ctx context.Context, version string, manifest []string) (*Worker, error) {
	if strings.TrimSpace(version) == "" {
		return nil, errors.New("empty cache version")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	w := newWorker(version, cache.BucketName(r.Prefix, version), manifest)
	logger := r.logger().With("version", version, "bucket", w.Bucket)

	l, err := r.acquire(ctx, "lock:install:"+w.Bucket)
	if err != nil {
		w.transition(Installing, Redundant)
		return w, err
	}
	defer l.Unlock(context.WithoutCancel(ctx))

	if err := r.install(ctx, w); err != nil {
		w.transition(Installing, Redundant)
		logger.Error("install failed", "err", err)
		return w, err
	}
	w.transition(Installing, Waiting)
	logger.Info("installed", "entries", len(manifest))
	return w, nil
}

func (r *Registry) install(ctx context.Context, w *Worker) error {
	bucket, err := r.Storage.Open(ctx, w.Bucket)
	if err != nil {
		return err
	}
	w.bucket = bucket

	now := time.Now().UTC()
	objects := make([]cache.Object, len(w.Manifest))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installFanOut)
	for i, entry := range w.Manifest {
		g.Go(func() error {
			path, query, _ := strings.Cut(entry, "?")
			resp, err := r.Origin.Fetch(gctx, path, query, nil)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", entry, err)
			}
			if !resp.OK() {
				return fmt.Errorf("fetch %s: unexpected status %d", entry, resp.StatusCode)
			}
			objects[i] = cache.NewObject(resp.Header, resp.Body, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("install %s: %w", w.Version, err)
	}

	// nothing is written until every entry has been fetched
	for i, entry := range w.Manifest {
		if err := bucket.Put(ctx, entry, objects[i]); err != nil {
			return fmt.Errorf("install %s: store %s: %w", w.Version, entry, err)
		}
	}
	return nil
}

// Activate deletes every bucket except w's and makes w the serving worker.
// The previous active worker becomes Superseded. Failing to delete a stale
// bucket is logged and does not block activation; the next activation
// retries it.
func (r *Registry) Activate(ctx context.Context, w *Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w.State() == Active && r.Active() == w {
		return nil
	}
	if w.State() != Waiting {
		return fmt.Errorf("activate %s: %w (state %s)", w.Version, ErrNotWaiting, w.State())
	}
	logger := r.logger().With("version", w.Version, "bucket", w.Bucket)

	l, err := r.acquire(ctx, activateLockKey)
	if err != nil {
		return fmt.Errorf("activate %s: %w", w.Version, err)
	}
	defer l.Unlock(context.WithoutCancel(ctx))

	names, err := r.Storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("activate %s: %w", w.Version, err)
	}
	for _, name := range names {
		if name == w.Bucket {
			continue
		}
		if _, err := r.Storage.Delete(ctx, name); err != nil {
			logger.Warn("delete stale bucket", "stale", name, "err", err)
			continue
		}
		logger.Info("deleted stale bucket", "stale", name)
	}

	if !w.transition(Waiting, Active) {
		return fmt.Errorf("activate %s: %w (state %s)", w.Version, ErrNotWaiting, w.State())
	}
	if prev := r.active.Swap(w); prev != nil && prev != w {
		prev.transition(Active, Superseded)
		logger.Info("superseded", "previous", prev.Version)
	}
	logger.Info("activated")
	return nil
}

// acquire polls the locker until the lock is held, the context ends or
// LockTTL elapses. Callers hold r.mu.
func (r *Registry) acquire(ctx context.Context, key string) (lock.Lock, error) {
	locker := r.Locker
	if locker == nil {
		if r.local == nil {
			r.local = lock.NewLocalLocker()
		}
		locker = r.local
	}
	ttl := r.LockTTL
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	deadline := time.Now().Add(ttl)
	for {
		l, ok, err := locker.TryLock(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return l, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (r *Registry) logger() *log.Logger {
	if r.Logger == nil {
		return log.Default()
	}
	return r.Logger
}
