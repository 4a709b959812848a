package clients

import (
	"context"
	"io"
	"net/http"
)

// Logger interface for HTTP client logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Credentials authenticate requests against the build artifact server.
// Token wins over Username/Password when both are set.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// HTTPClient wraps http.Client with context-aware helpers
// It extracts metadata from context and adds the matching headers
type HTTPClient struct {
	client *http.Client
	logger Logger
	creds  Credentials
}

// NewHTTPClient creates a new HTTP client wrapper
func NewHTTPClient(client *http.Client, logger Logger, creds Credentials) *HTTPClient {
	return &HTTPClient{
		client: client,
		logger: logger,
		creds:  creds,
	}
}

// DoRequest creates and executes an HTTP request, extracting metadata from context
func (c *HTTPClient) DoRequest(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if taskID, ok := GetTaskID(ctx); ok {
		req.Header.Set("X-Sign-Task-ID", taskID)
		c.logger.Debug("added X-Sign-Task-ID header from context", "task_id", taskID)
	}

	switch {
	case c.creds.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.creds.Token)
	case c.creds.Username != "":
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}

	return c.client.Do(req)
}
