package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/52poke/sitecache/internal/cache"
	"github.com/52poke/sitecache/internal/config"
	"github.com/52poke/sitecache/internal/origin"
	"github.com/52poke/sitecache/internal/worker"
	"github.com/charmbracelet/log"
)

const cacheStatusHeader = "X-Sitecache"

// Workers resolves the cache version currently serving.
type Workers interface {
	Active() *worker.Worker
}

type Handler struct {
	Cfg     config.Config
	Workers Workers
	Origin  origin.Fetcher
	Proxy   http.Handler
	Logger  *log.Logger

	writes sync.WaitGroup
}

// forwardedHeaders are copied from the caller onto origin fetches.
var forwardedHeaders = []string{"Accept", "Accept-Language", "User-Agent"}

func NewHandler(cfg config.Config, workers Workers, fetcher origin.Fetcher, logger *log.Logger) (*Handler, error) {
	u, err := url.Parse(cfg.OriginBaseURL)
	if err != nil {
		return nil, err
	}
	proxy := httputil.NewSingleHostReverseProxy(u)
	return &Handler{
		Cfg:     cfg,
		Workers: workers,
		Origin:  fetcher,
		Proxy:   proxy,
		Logger:  logger,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	info := ClassifyRequest(r, h.Cfg.SiteHost)
	if info.Kind == Passthrough {
		h.Proxy.ServeHTTP(w, r)
		return
	}

	active := h.Workers.Active()
	if active == nil || active.Cache() == nil {
		h.Proxy.ServeHTTP(w, r)
		return
	}

	if info.Kind == Navigation {
		h.serveNavigation(w, r, active.Cache())
		return
	}
	h.serveAsset(w, r, active.Cache())
}

// serveNavigation is cache-first on the normalized page, then network, then
// the fallback pages, then a synthesized 503.
func (h *Handler) serveNavigation(w http.ResponseWriter, r *http.Request, bucket cache.Bucket) {
	ctx := r.Context()
	normalized := NormalizePath(r.URL.Path)
	full := requestKey(normalized, r.URL.RawQuery)

	if obj, ok := h.match(ctx, bucket, full, normalized); ok {
		writeObject(w, obj, "HIT")
		return
	}

	resp, err := h.Origin.Fetch(ctx, normalized, r.URL.RawQuery, forwardHeaders(r.Header))
	if err != nil {
		h.logger().Debug("navigation fetch failed", "path", full, "err", err)
		if obj, ok := h.match(ctx, bucket, normalized, "/", "/index.html"); ok {
			writeObject(w, obj, "FALLBACK")
			return
		}
		writeSynthesized(w, http.StatusServiceUnavailable, "Offline")
		return
	}

	if resp.Cacheable() {
		h.store(bucket, objectFrom(resp), full, normalized)
	}
	writeUpstream(w, resp, "MISS")
}

// serveAsset is cache-first on the exact request; assets are immutable within
// a cache version.
func (h *Handler) serveAsset(w http.ResponseWriter, r *http.Request, bucket cache.Bucket) {
	ctx := r.Context()
	key := requestKey(r.URL.Path, r.URL.RawQuery)

	if obj, ok := h.match(ctx, bucket, key); ok {
		writeObject(w, obj, "HIT")
		return
	}

	resp, err := h.Origin.Fetch(ctx, r.URL.Path, r.URL.RawQuery, forwardHeaders(r.Header))
	if err != nil {
		h.logger().Debug("asset fetch failed", "path", key, "err", err)
		writeSynthesized(w, http.StatusGatewayTimeout, "")
		return
	}

	if resp.Cacheable() {
		h.store(bucket, objectFrom(resp), key)
	}
	writeUpstream(w, resp, "MISS")
}

// match returns the first key present in the bucket. Read errors count as
// misses.
func (h *Handler) match(ctx context.Context, bucket cache.Bucket, keys ...string) (cache.Object, bool) {
	for _, key := range keys {
		obj, err := bucket.Match(ctx, key)
		if err == nil {
			return obj, true
		}
		if !errors.Is(err, cache.ErrNotFound) {
			h.logger().Warn("cache read failed", "bucket", bucket.Name(), "key", key, "err", err)
		}
	}
	return cache.Object{}, false
}

// store writes obj under keys in the background. The response never waits
// for it and failures are only logged.
func (h *Handler) store(bucket cache.Bucket, obj cache.Object, keys ...string) {
	timeout := h.Cfg.WriteTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	h.writes.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		for _, key := range keys {
			if err := bucket.Put(ctx, key, obj); err != nil {
				h.logger().Debug("cache write failed", "bucket", bucket.Name(), "key", key, "err", err)
			}
		}
	})
}

// Wait blocks until every pending cache write has finished.
func (h *Handler) Wait() {
	h.writes.Wait()
}

func (h *Handler) logger() *log.Logger {
	if h.Logger == nil {
		return log.Default()
	}
	return h.Logger
}

func forwardHeaders(src http.Header) http.Header {
	dst := http.Header{}
	for _, k := range forwardedHeaders {
		if v := src.Get(k); v != "" {
			dst.Set(k, v)
		}
	}
	return dst
}

func objectFrom(resp origin.Response) cache.Object {
	return cache.NewObject(resp.Header, resp.Body, time.Now().UTC())
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func writeObject(w http.ResponseWriter, obj cache.Object, cacheStatus string) {
	copyHeader(w.Header(), cache.EndToEnd(obj.Header))
	w.Header().Set(cacheStatusHeader, cacheStatus)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Body)
}

func writeUpstream(w http.ResponseWriter, resp origin.Response, cacheStatus string) {
	copyHeader(w.Header(), cache.EndToEnd(resp.Header))
	w.Header().Set(cacheStatusHeader, cacheStatus)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func writeSynthesized(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set(cacheStatusHeader, "OFFLINE")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
