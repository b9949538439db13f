package purge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/52poke/sitecache/internal/cache"
	httpx "github.com/52poke/sitecache/internal/http"
	"github.com/52poke/sitecache/internal/lock"
	"github.com/52poke/sitecache/internal/origin"
	"github.com/charmbracelet/log"
)

// Handler refreshes one entry of the active bucket from the origin.
type Handler struct {
	Workers    httpx.Workers
	Origin     origin.Fetcher
	Locker     lock.Locker
	NginxPurge string
	LockTTL    time.Duration
	HTTPClient *http.Client
	Logger     *log.Logger
}

const purgeTimestampHeader = "X-Purge-Timestamp"

type purgePayload struct {
	Path string `json:"path"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := readPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tsHeader := strings.TrimSpace(r.Header.Get(purgeTimestampHeader))
	if tsHeader == "" {
		http.Error(w, "missing purge timestamp", http.StatusBadRequest)
		return
	}
	purgeTime, err := time.Parse(time.RFC3339, tsHeader)
	if err != nil {
		http.Error(w, "invalid purge timestamp", http.StatusBadRequest)
		return
	}

	active := h.Workers.Active()
	if active == nil || active.Cache() == nil {
		http.Error(w, "no active cache version", http.StatusServiceUnavailable)
		return
	}

	if err := h.refresh(r.Context(), active.Cache(), target, purgeTime); err != nil {
		h.logger().Warn("purge failed", "path", target, "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readPath(r *http.Request) (string, error) {
	if v := r.URL.Query().Get("path"); v != "" {
		return cleanPath(v)
	}
	if v := r.Header.Get("X-Path"); v != "" {
		return cleanPath(v)
	}
	if r.Body != nil {
		defer r.Body.Close()
		var payload purgePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil && payload.Path != "" {
			return cleanPath(payload.Path)
		}
	}
	if r.URL.Path != "" && r.URL.Path != "/" {
		return cleanPath(r.URL.Path)
	}
	return "", errors.New("path required")
}

func cleanPath(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return "", errors.New("path must be absolute")
	}
	return raw, nil
}

// isPage reports whether p is served as a page and therefore keyed by its
// normalized form.
func isPage(p string) bool {
	p, _, _ = strings.Cut(p, "?")
	ext := path.Ext(p)
	return ext == "" || ext == ".html"
}

// entryKeys returns the fetch target and every bucket key it is stored
// under.
func entryKeys(target string) (string, string, []string) {
	p, query, _ := strings.Cut(target, "?")
	if !isPage(target) {
		return p, query, []string{target}
	}
	normalized := httpx.NormalizePath(p)
	full := normalized
	if query != "" {
		full += "?" + query
	}
	keys := []string{full}
	if target != full {
		keys = append(keys, target)
	}
	return normalized, query, keys
}

func (h *Handler) refresh(ctx context.Context, bucket cache.Bucket, target string, purgeTime time.Time) error {
	fetchPath, query, keys := entryKeys(target)
	if h.fresh(ctx, bucket, keys, purgeTime) {
		return nil
	}

	lockKey := "lock:" + bucket.Name() + ":" + keys[0]
	l, ok, err := h.Locker.TryLock(ctx, lockKey, h.LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	defer l.Unlock(ctx)

	if h.fresh(ctx, bucket, keys, purgeTime) {
		return nil
	}

	resp, err := h.Origin.Fetch(ctx, fetchPath, query, http.Header{})
	if err != nil {
		return err
	}
	if !resp.Cacheable() {
		if resp.StatusCode < http.StatusInternalServerError {
			for _, key := range keys {
				_ = bucket.Delete(ctx, key)
			}
			return h.purgeNginx(ctx, target)
		}
		return errors.New("upstream non-200 response")
	}

	obj := cache.NewObject(resp.Header, resp.Body, time.Now().UTC())
	for _, key := range keys {
		if err := bucket.Put(ctx, key, obj); err != nil {
			return err
		}
	}
	h.logger().Info("refreshed", "bucket", bucket.Name(), "keys", keys)
	return h.purgeNginx(ctx, target)
}

// fresh reports whether every key was already stored after purgeTime.
func (h *Handler) fresh(ctx context.Context, bucket cache.Bucket, keys []string, purgeTime time.Time) bool {
	for _, key := range keys {
		obj, err := bucket.Match(ctx, key)
		if err != nil || !obj.UpdatedAt.After(purgeTime) {
			return false
		}
	}
	return true
}

func (h *Handler) purgeNginx(ctx context.Context, target string) error {
	if strings.TrimSpace(h.NginxPurge) == "" {
		return nil
	}
	base, err := url.Parse(h.NginxPurge)
	if err != nil {
		return err
	}
	p, query, _ := strings.Cut(target, "?")
	base.Path = strings.TrimRight(base.Path, "/") + p
	base.RawQuery = query
	req, err := http.NewRequestWithContext(ctx, "PURGE", base.String(), nil)
	if err != nil {
		return err
	}
	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("nginx purge failed")
	}
	return nil
}

func (h *Handler) logger() *log.Logger {
	if h.Logger == nil {
		return log.Default()
	}
	return h.Logger
}
