package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

var ErrNotFound = errors.New("cache object not found")

// Object is a stored 200 response.
type Object struct {
	Header    http.Header `json:"header,omitempty"`
	Body      []byte      `json:"body"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// HopHeaders are connection-level and never stored or relayed.
var HopHeaders = []string{
	"Connection",
	"Content-Length",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// NewObject keeps the end-to-end headers of an origin response.
func NewObject(header http.Header, body []byte, updatedAt time.Time) Object {
	return Object{
		Header:    EndToEnd(header),
		Body:      body,
		UpdatedAt: updatedAt,
	}
}

// EndToEnd returns a copy of h without hop-by-hop headers, including any
// named by Connection.
func EndToEnd(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		return http.Header{}
	}
	for _, v := range out.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out.Del(name)
			}
		}
	}
	for _, k := range HopHeaders {
		out.Del(k)
	}
	return out
}

// Bucket maps request keys to stored responses. Writes to the same key are
// last-write-wins.
type Bucket interface {
	Name() string
	Match(ctx context.Context, key string) (Object, error)
	Put(ctx context.Context, key string, obj Object) error
	// Delete removes one entry; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Storage holds named buckets.
type Storage interface {
	// Open returns the named bucket, creating it when missing.
	Open(ctx context.Context, name string) (Bucket, error)
	// Keys lists bucket names in lexical order.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes a bucket and reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
}

func BucketName(prefix, version string) string {
	return prefix + "-" + version
}
