package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kailas-cloud/docarray/internal/domain"
)

const requestTimeout = 30 * time.Second

// restClient speaks the Qdrant HTTP API.
type restClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newRESTClient(baseURL, apiKey string, hc *http.Client) *restClient {
	if hc == nil {
		hc = &http.Client{Timeout: requestTimeout}
	}
	return &restClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: hc}
}

// apiError is the error body Qdrant returns on non-2xx responses.
type apiError struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}

// StatusError is a non-2xx reply.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qdrant returned status %d: %s", e.Code, e.Message)
}

// do sends in as JSON and decodes the "result" member of the reply into out.
func (c *restClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w: %w", method, path, domain.ErrSerialization, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w: %w", method, path, domain.ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae apiError
		msg := string(respBody)
		if json.Unmarshal(respBody, &ae) == nil && ae.Status.Error != "" {
			msg = ae.Status.Error
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	envelope := struct {
		Result any `json:"result"`
	}{Result: out}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("parsing %s %s response: %w: %w", method, path, domain.ErrSerialization, err)
	}
	return nil
}

func collectionPath(name string, parts ...string) string {
	p := "/collections/" + url.PathEscape(name)
	for _, s := range parts {
		p += "/" + s
	}
	return p
}
