// Package sdk provides typed Go access to the achievekit HTTP + WebSocket API.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"achievekit/core"
	"achievekit/scoring"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the achievekit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// TriggerEvent submits a typed event occurrence for rule evaluation.
func (c *Client) TriggerEvent(ctx context.Context, trig core.EventTrigger) (core.TriggerResponse, error) {
	if strings.TrimSpace(string(trig.UserID)) == "" {
		return core.TriggerResponse{}, ErrEmptyUserID
	}
	return do[core.TriggerResponse](ctx, c, http.MethodPost, "/triggers/event", trig)
}

// TriggerMetric applies explicit metric increments for a user.
func (c *Client) TriggerMetric(ctx context.Context, trig core.MetricTrigger) (core.TriggerResponse, error) {
	if strings.TrimSpace(string(trig.UserID)) == "" {
		return core.TriggerResponse{}, ErrEmptyUserID
	}
	return do[core.TriggerResponse](ctx, c, http.MethodPost, "/triggers/metric", trig)
}

// ScoreAttempt scores a quiz attempt under the named weights profile
// (empty = default) and credits the points metric.
func (c *Client) ScoreAttempt(ctx context.Context, userID string, profile string, attempt scoring.Attempt) (ScoreOutcome, error) {
	if strings.TrimSpace(userID) == "" {
		return ScoreOutcome{}, ErrEmptyUserID
	}
	body := map[string]any{"user_id": userID, "profile": profile, "attempt": attempt}
	return do[ScoreOutcome](ctx, c, http.MethodPost, "/score", body)
}

// UserMetrics fetches all counter values tracked for a user.
func (c *Client) UserMetrics(ctx context.Context, userID string) ([]core.UserGameMetric, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	return do[[]core.UserGameMetric](ctx, c, http.MethodGet, "/users/"+url.PathEscape(userID)+"/metrics", nil)
}

// UserAchievements fetches a user's unlocked achievements. A user with no
// unlocks yields an empty record, not an error.
func (c *Client) UserAchievements(ctx context.Context, userID string) (core.UserGameAchievement, error) {
	if strings.TrimSpace(userID) == "" {
		return core.UserGameAchievement{}, ErrEmptyUserID
	}
	return do[core.UserGameAchievement](ctx, c, http.MethodGet, "/users/"+url.PathEscape(userID)+"/achievements", nil)
}

// Leaderboard fetches the top entries for a metric's board. A limit of 0
// uses the server default.
func (c *Client) Leaderboard(ctx context.Context, metricID string, limit int) ([]LeaderboardEntry, error) {
	path := "/leaderboard/" + url.PathEscape(metricID)
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	return do[[]LeaderboardEntry](ctx, c, http.MethodGet, path, nil)
}

// CreateEvent registers an event definition.
func (c *Client) CreateEvent(ctx context.Context, ev core.Event) (core.Event, error) {
	return do[core.Event](ctx, c, http.MethodPost, "/events", ev)
}

// GetEvent fetches one event definition.
func (c *Client) GetEvent(ctx context.Context, id string) (core.Event, error) {
	return do[core.Event](ctx, c, http.MethodGet, "/events/"+url.PathEscape(id), nil)
}

// ListEvents fetches all event definitions.
func (c *Client) ListEvents(ctx context.Context) ([]core.Event, error) {
	return do[[]core.Event](ctx, c, http.MethodGet, "/events", nil)
}

// DeleteEvent removes an event and its dependent rules.
func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	_, err := do[struct{}](ctx, c, http.MethodDelete, "/events/"+url.PathEscape(id), nil)
	return err
}

// CreateRule registers a rule binding an event to a metric.
func (c *Client) CreateRule(ctx context.Context, r core.Rule) (core.Rule, error) {
	return do[core.Rule](ctx, c, http.MethodPost, "/rules", r)
}

// CreateMetric registers a metric definition.
func (c *Client) CreateMetric(ctx context.Context, m core.GameMetric) (core.GameMetric, error) {
	return do[core.GameMetric](ctx, c, http.MethodPost, "/metrics", m)
}

// CreateAchievement registers a threshold achievement.
func (c *Client) CreateAchievement(ctx context.Context, a core.MetricAchievement) (core.MetricAchievement, error) {
	return do[core.MetricAchievement](ctx, c, http.MethodPost, "/achievements", a)
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	return do[HealthStatus](ctx, c, http.MethodGet, "/healthz", nil)
}

// SubscribeEvents connects to the WebSocket stream and emits bus events.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan core.BusEvent, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.BusEvent, 32)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
				var evt core.BusEvent
				if err := conn.ReadJSON(&evt); err != nil {
					return
				}
				select {
				case out <- evt:
				default:
					// drop if consumer is slow
				}
			}
		}
	}()
	return out, nil
}

// do issues one JSON request and decodes the response, converting error
// envelopes into *APIError.
func do[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var zero T

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return zero, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return zero, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return zero, decodeAPIError(resp)
	}
	if resp.StatusCode == http.StatusNoContent {
		return zero, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(&zero); err != nil {
		return zero, fmt.Errorf("decode response: %w", err)
	}
	return zero, nil
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
