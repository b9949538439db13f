package origin

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Response is a fully read origin response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Basic reports that the response was served by the origin itself,
	// not by another host reached through a redirect.
	Basic bool
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Cacheable reports a response eligible for write-through: a 200 from the
// origin itself.
func (r Response) Cacheable() bool {
	return r.StatusCode == http.StatusOK && r.Basic
}

type Client struct {
	base *url.URL
	http *http.Client
}

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base: u,
		http: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Fetch issues a GET for path and rawQuery against the origin. A non-nil
// error means the origin could not be reached at all.
func (c *Client) Fetch(ctx context.Context, path string, rawQuery string, headers http.Header) (Response, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = rawQuery

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Response{}, err
	}
	copyHeaders(req.Header, headers)

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	return Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Basic:      c.sameOrigin(resp),
	}, nil
}

func (c *Client) sameOrigin(resp *http.Response) bool {
	if resp.Request == nil || resp.Request.URL == nil {
		return true
	}
	final := resp.Request.URL
	return strings.EqualFold(final.Scheme, c.base.Scheme) && strings.EqualFold(final.Host, c.base.Host)
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if len(vv) == 0 {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// Fetcher is the network side of the cache; *Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, path string, rawQuery string, headers http.Header) (Response, error)
}
