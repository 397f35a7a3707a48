// Package coach provides the Go client for the coach platform: a live
// voice/text streaming session with the coach agent, and a training-plan
// client with optimistic updates kept in sync with the coach backend.
package coach

import (
	"log/slog"
	"net/http"
	"strings"
)

// Client is the main entry point for the SDK.
type Client struct {
	// Stream manages the live voice/text session with the coach agent.
	Stream *StreamService

	// Plan manages the daily training plan against the coach backend.
	Plan *PlanService

	agentURL   string
	backendURL string
	userEmail  string
	source     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new client. The agent and backend base URLs must be
// set with WithAgentURL / WithBackendURL before connecting.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		source: "cli",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newDefaultHTTPClient()
	}

	c.Stream = &StreamService{client: c}
	c.Plan = newPlanService(c)
	return c
}

// UserEmail returns the identity sent to the backend on writes and on the
// push channel.
func (c *Client) UserEmail() string {
	return c.userEmail
}

// wsBaseURL rewrites an http(s) base URL to its ws(s) counterpart.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
