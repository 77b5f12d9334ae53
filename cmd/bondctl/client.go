package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bondvault/crypto"
	"bondvault/services/bondd/server"
)

// apiClient talks to a bondd instance. Requests are signed with key when one
// is loaded, otherwise token is sent as a bearer credential when set.
type apiClient struct {
	endpoint string
	http     *http.Client
	key      *crypto.PrivateKey
	token    string
	now      func() time.Time
}

func newAPIClient(endpoint string) *apiClient {
	return &apiClient{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		http:     &http.Client{Timeout: 15 * time.Second},
		now:      time.Now,
	}
}

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bondd: %s (HTTP %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("bondd: %s: %s (HTTP %d)", e.Code, e.Message, e.Status)
}

func (c *apiClient) get(path string) (map[string]any, error) {
	return c.do(http.MethodGet, path, nil)
}

func (c *apiClient) post(path string, body any) (map[string]any, error) {
	return c.do(http.MethodPost, path, body)
}

func (c *apiClient) do(method, path string, body any) (map[string]any, error) {
	var raw []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		raw = encoded
	}
	req, err := http.NewRequest(method, c.endpoint+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.key != nil:
		if err := server.SignRequest(req, c.key, raw, c.now()); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, c.endpoint+path, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var failure struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &failure)
		if failure.Error == "" {
			failure.Error = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
		}
		return nil, &apiError{Status: resp.StatusCode, Code: failure.Error, Message: failure.Message}
	}
	out := map[string]any{}
	if len(bytes.TrimSpace(payload)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
