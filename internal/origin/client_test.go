package origin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchJoinsBasePathAndQuery(t *testing.T) {
	var gotPath, gotQuery, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/site/", 0)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.Fetch(context.Background(), "/privacy", "a=1", http.Header{"Accept": {"text/html"}})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPath != "/site/privacy" || gotQuery != "a=1" || gotHeader != "text/html" {
		t.Fatalf("unexpected request path=%q query=%q accept=%q", gotPath, gotQuery, gotHeader)
	}
	if !resp.Cacheable() || string(resp.Body) != "ok" || resp.Header.Get("Content-Type") != "text/html" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestFetchRedirectToOtherHostIsNotBasic(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("elsewhere"))
	}))
	defer other.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, other.URL+"/x", http.StatusFound)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, 0)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.Fetch(context.Background(), "/moved", "", nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Basic || resp.Cacheable() {
		t.Fatalf("redirected response should not be basic: %+v", resp)
	}
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Fetch(context.Background(), "/", "", nil); err == nil {
		t.Fatal("expected network error")
	}
}

func TestResponseStatusPredicates(t *testing.T) {
	cases := []struct {
		resp      Response
		ok, cache bool
	}{
		{Response{StatusCode: http.StatusOK, Basic: true}, true, true},
		{Response{StatusCode: http.StatusOK}, true, false},
		{Response{StatusCode: http.StatusNoContent, Basic: true}, true, false},
		{Response{StatusCode: http.StatusMovedPermanently, Basic: true}, false, false},
		{Response{StatusCode: http.StatusNotFound, Basic: true}, false, false},
	}
	for _, tc := range cases {
		if tc.resp.OK() != tc.ok || tc.resp.Cacheable() != tc.cache {
			t.Errorf("status %d basic=%v: OK=%v Cacheable=%v", tc.resp.StatusCode, tc.resp.Basic, tc.resp.OK(), tc.resp.Cacheable())
		}
	}
}
