package lapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fbonalair/crowdsec-stream-bouncer/metrics"
	"github.com/fbonalair/crowdsec-stream-bouncer/model"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http/httpguts"
)

const (
	crowdsecAuthHeader = "X-Api-Key"
	streamRoute        = "v1/decisions/stream"
	DefaultUserAgent   = "crowdsec-stream-bouncer/v0.1.0"
	defaultTimeout     = 30 * time.Second
	maxErrorBodySize   = 512
)

/*
Client talks to a Crowdsec local API with a bouncer API key.
It is safe for concurrent use, streams can share one client.
*/
type Client struct {
	host       *url.URL
	userAgent  string
	timeout    time.Duration
	base       http.RoundTripper
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithTimeout bounds a whole request, body included.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithTransport replaces the pooled transport requests go through.
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.base = transport
	}
}

func NewClient(baseURL string, apiKey string, opts ...ClientOption) (*Client, error) {
	host, err := url.Parse(baseURL)
	if err != nil {
		return nil, &ConfigError{Field: "base url", Reason: err.Error()}
	}
	if !host.IsAbs() || host.Host == "" {
		return nil, &ConfigError{Field: "base url", Reason: "must be absolute, got " + strconv.Quote(baseURL)}
	}
	if apiKey == "" {
		return nil, &ConfigError{Field: "api key", Reason: "must not be empty"}
	}
	if !httpguts.ValidHeaderFieldValue(apiKey) {
		return nil, &ConfigError{Field: "api key", Reason: "contains characters not allowed in a header value"}
	}

	c := &Client{
		host:      host,
		userAgent: DefaultUserAgent,
		timeout:   defaultTimeout,
		base: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			MaxIdleConns:    10,
			IdleConnTimeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient = &http.Client{
		Transport: &headerTransport{apiKey: apiKey, userAgent: c.userAgent, next: c.base},
		Timeout:   c.timeout,
	}
	return c, nil
}

// MarshalZerologObject lets the client be logged, the API key stays out of it.
func (c *Client) MarshalZerologObject(e *zerolog.Event) {
	e.Str("host", c.host.Redacted()).
		Str("user_agent", c.userAgent).
		Dur("timeout", c.timeout).
		Str("api_key", "[REDACTED]")
}

/*
Run one poll of the decisions stream. No retry is done here, errors go straight back to the caller.
*/
func (c *Client) FetchDecisions(ctx context.Context, opts model.StreamOptions) (model.DecisionsResponse, error) {
	var decisions model.DecisionsResponse

	streamUrl := c.host.JoinPath(streamRoute)
	streamUrl.RawQuery = opts.Values().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamUrl.String(), nil)
	if err != nil {
		return decisions, &TransportError{Err: errors.Wrap(err, "building request")}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RequestDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return decisions, &TransportError{Err: err}
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			log.Err(err).Msg("An error occurred while closing body reader")
		}
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	metrics.RequestDuration.WithLabelValues(strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
	// the status wins over a broken body, whatever was read is kept as the message
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if err != nil {
			log.Debug().Err(err).Int("status", resp.StatusCode).Msg("Could not read whole error body")
		}
		return decisions, &HTTPStatusError{Code: resp.StatusCode, Body: truncate(body)}
	}
	if err != nil {
		return decisions, &TransportError{Err: errors.Wrap(err, "reading response body")}
	}

	if err := json.Unmarshal(body, &decisions); err != nil {
		return model.DecisionsResponse{}, &DecodeError{Err: err}
	}
	log.Debug().
		Bool("startup", opts.Startup).
		Int("new", len(decisions.New)).
		Int("deleted", len(decisions.Deleted)).
		Msg("Fetched decisions stream")
	return decisions, nil
}

func truncate(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBodySize {
		return text[:maxErrorBodySize] + "..."
	}
	return text
}

// headerTransport sets the headers every LAPI request carries.
type headerTransport struct {
	apiKey    string
	userAgent string
	next      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set(crowdsecAuthHeader, t.apiKey)
	req.Header.Set("User-Agent", t.userAgent)
	return t.next.RoundTrip(req)
}
