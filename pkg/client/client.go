// Package client is a small Go client for the handoff HTTP API. The
// login frontend uses it to request transfers; the ops CLI uses it for
// the admin surface.
package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

type Option func(*Client)

// WithAuthToken sets the bearer token sent with every request.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = token
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// urlBuilder assembles request URLs from route templates like
// "/v1/admin/tasks/{name}/logs".
type urlBuilder struct {
	base       string
	path       string
	pathParams map[string]string
	query      url.Values
}

func (c *Client) url() *urlBuilder {
	return &urlBuilder{
		base:       c.baseURL,
		pathParams: make(map[string]string),
		query:      url.Values{},
	}
}

func (b *urlBuilder) setPath(path string) *urlBuilder {
	b.path = path
	return b
}

func (b *urlBuilder) setPathParam(key, value string) *urlBuilder {
	b.pathParams[key] = value
	return b
}

func (b *urlBuilder) addQueryParam(key string, value any) *urlBuilder {
	b.query.Add(key, fmt.Sprint(value))
	return b
}

func (b *urlBuilder) build() string {
	path := b.path
	for key, value := range b.pathParams {
		path = strings.ReplaceAll(path, "{"+key+"}", url.PathEscape(value))
	}
	built := b.base + path
	if len(b.query) > 0 {
		built += "?" + b.query.Encode()
	}
	return built
}
