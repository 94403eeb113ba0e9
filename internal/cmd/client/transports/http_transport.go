package transports

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPTransport talks to a single worker's REST API.
type HTTPTransport struct {
	base   string
	client *http.Client
}

// NewHTTPTransport returns a transport for the API rooted at baseURL.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{base: strings.TrimRight(baseURL, "/"), client: client}
}

func (t *HTTPTransport) Get(ctx context.Context) (Status, error) {
	return t.do(ctx, http.MethodGet, "/v1/status")
}

func (t *HTTPTransport) Start(ctx context.Context) (Status, error) {
	return t.do(ctx, http.MethodPut, "/v1/status/start")
}

func (t *HTTPTransport) Stop(ctx context.Context, wait time.Duration) (Status, error) {
	path := "/v1/status/stop"
	if wait > 0 {
		path += "?wait=" + url.QueryEscape(wait.String())
	}
	return t.do(ctx, http.MethodPut, path)
}

func (t *HTTPTransport) do(ctx context.Context, method, path string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.base+path, nil)
	if err != nil {
		return Status{}, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Status{}, err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return Status{}, fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return Status{}, fmt.Errorf("%s", resp.Status)
	}
	var st Status
	if err := json.Unmarshal(body, &st); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}
