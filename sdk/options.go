package coach

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithAgentURL sets the coach agent base URL (chat/voice streaming).
func WithAgentURL(url string) ClientOption {
	return func(c *Client) {
		c.agentURL = strings.TrimRight(url, "/")
	}
}

// WithBackendURL sets the coach backend base URL (plans and push channel).
func WithBackendURL(url string) ClientOption {
	return func(c *Client) {
		c.backendURL = strings.TrimRight(url, "/")
	}
}

// WithUserEmail sets the user identity sent on plan writes and the push
// channel subscription.
func WithUserEmail(email string) ClientOption {
	return func(c *Client) {
		c.userEmail = strings.TrimSpace(email)
	}
}

// WithSource labels plan writes with their origin (for example "web",
// "cli", "agent"). Defaults to "cli".
func WithSource(source string) ClientOption {
	return func(c *Client) {
		if s := strings.TrimSpace(source); s != "" {
			c.source = s
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout. Only meaningful for the plan
// endpoints; the streaming channels are long-lived and governed by
// context deadlines.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = newDefaultHTTPClient()
		}
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
