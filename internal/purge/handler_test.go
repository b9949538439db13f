package purge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/52poke/sitecache/internal/cache"
	"github.com/52poke/sitecache/internal/lock"
	"github.com/52poke/sitecache/internal/origin"
	"github.com/52poke/sitecache/internal/worker"
	"github.com/charmbracelet/log"
)

type stubOrigin struct {
	mu     sync.Mutex
	status map[string]int
	body   map[string]string
	calls  []string
}

func (s *stubOrigin) set(key string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[key] = status
	s.body[key] = body
}

func (s *stubOrigin) Fetch(ctx context.Context, path, rawQuery string, headers http.Header) (origin.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := path
	if rawQuery != "" {
		key += "?" + rawQuery
	}
	s.calls = append(s.calls, key)
	status, ok := s.status[key]
	if !ok {
		return origin.Response{}, errors.New("unreachable")
	}
	return origin.Response{StatusCode: status, Header: http.Header{"Content-Type": {"text/html"}}, Body: []byte(s.body[key]), Basic: true}, nil
}

func setup(t *testing.T) (*Handler, *stubOrigin, cache.Bucket) {
	t.Helper()
	o := &stubOrigin{status: map[string]int{}, body: map[string]string{}}
	o.set("/privacy", http.StatusOK, "v1")
	o.set("/privacy.html", http.StatusOK, "v1")
	o.set("/styles.css", http.StatusOK, "css")
	logger := log.New(io.Discard)
	registry := &worker.Registry{Storage: cache.NewMemoryStorage(), Origin: o, Prefix: "test", Logger: logger}
	if _, err := registry.Register(context.Background(), "v1", []string{"/privacy", "/privacy.html", "/styles.css"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	h := &Handler{
		Workers: registry,
		Origin:  o,
		Locker:  lock.NewLocalLocker(),
		LockTTL: time.Minute,
		Logger:  logger,
	}
	return h, o, registry.Active().Cache()
}

func purgeRequest(target string, ts time.Time) *http.Request {
	r := httptest.NewRequest("PURGE", target, nil)
	if !ts.IsZero() {
		r.Header.Set(purgeTimestampHeader, ts.Format(time.RFC3339))
	}
	return r
}

func TestPurgeRequiresTimestamp(t *testing.T) {
	h, _, _ := setup(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, purgeRequest("/privacy", time.Time{}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestPurgeRequiresAbsolutePath(t *testing.T) {
	h, _, _ := setup(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, purgeRequest("/?path=privacy", time.Now()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestPurgeRefreshesPageKeys(t *testing.T) {
	h, o, bucket := setup(t)
	o.set("/privacy", http.StatusOK, "v2")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, purgeRequest("/privacy.html", time.Now().Add(time.Hour)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	for _, key := range []string{"/privacy", "/privacy.html"} {
		obj, err := bucket.Match(context.Background(), key)
		if err != nil || string(obj.Body) != "v2" {
			t.Fatalf("%s: %v %q", key, err, obj.Body)
		}
		if obj.Header.Get("Content-Type") != "text/html" {
			t.Fatalf("%s: refreshed entry lost its headers: %v", key, obj.Header)
		}
	}
	if last := o.calls[len(o.calls)-1]; last != "/privacy" {
		t.Fatalf("fetched %q, want the normalized path", last)
	}
}

func TestPurgeSkipsFreshEntries(t *testing.T) {
	h, o, _ := setup(t)
	before := len(o.calls)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, purgeRequest("/styles.css", time.Now().Add(-time.Hour)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got %d", rec.Code)
	}
	if len(o.calls) != before {
		t.Fatalf("fresh entry was refetched: %v", o.calls[before:])
	}
}

func TestPurgeRemovesGoneEntries(t *testing.T) {
	h, o, bucket := setup(t)
	o.set("/styles.css", http.StatusNotFound, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, purgeRequest("/?path=/styles.css", time.Now().Add(time.Hour)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got %d", rec.Code)
	}
	if _, err := bucket.Match(context.Background(), "/styles.css"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("entry not removed: %v", err)
	}
}

func TestPurgeUpstreamErrorIsBadGateway(t *testing.T) {
	h, o, bucket := setup(t)
	o.set("/styles.css", http.StatusInternalServerError, "")

	rec := httptest.NewRecorder()
	r := purgeRequest("/", time.Now().Add(time.Hour))
	r.Header.Set("X-Path", "/styles.css")
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("got %d", rec.Code)
	}
	if _, err := bucket.Match(context.Background(), "/styles.css"); err != nil {
		t.Fatalf("entry should survive an upstream 5xx: %v", err)
	}
}

func TestPurgeJSONBodyAndNginx(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	nginx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.RequestURI())
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer nginx.Close()

	h, o, _ := setup(t)
	h.NginxPurge = nginx.URL + "/cache"
	o.set("/styles.css", http.StatusOK, "new css")

	r := httptest.NewRequest("PURGE", "/", strings.NewReader(`{"path":"/styles.css"}`))
	r.Header.Set(purgeTimestampHeader, time.Now().Add(time.Hour).Format(time.RFC3339))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(seen, []string{"PURGE /cache/styles.css"}) {
		t.Fatalf("nginx saw %v", seen)
	}
}

func TestEntryKeys(t *testing.T) {
	cases := []struct {
		target    string
		fetchPath string
		query     string
		keys      []string
	}{
		{"/privacy.html", "/privacy", "", []string{"/privacy", "/privacy.html"}},
		{"/privacy", "/privacy", "", []string{"/privacy"}},
		{"/index.html", "/", "", []string{"/", "/index.html"}},
		{"/terms.html?lang=en", "/terms", "lang=en", []string{"/terms?lang=en", "/terms.html?lang=en"}},
		{"/app.js?v=2", "/app.js", "v=2", []string{"/app.js?v=2"}},
	}
	for _, tc := range cases {
		p, q, keys := entryKeys(tc.target)
		if p != tc.fetchPath || q != tc.query || !slices.Equal(keys, tc.keys) {
			t.Errorf("entryKeys(%q) = %q %q %v", tc.target, p, q, keys)
		}
	}
}
