package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Device      string
	ComputeType string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

type client struct {
	cfg  Config
	http *http.Client
}

func newClient(cfg Config, defaultTimeout time.Duration) client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Device == "" {
		cfg.Device = "auto"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return client{cfg: cfg, http: hc}
}

func (c client) do(req *http.Request) (*http.Response, error) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("runtime error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// checkModel asks the runtime for its model list and requires the configured
// model to be present when the runtime reports any.
func (c client) checkModel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("decode model list: %w", err)
	}
	if len(list.Data) == 0 || c.cfg.Model == "" {
		return nil
	}
	for _, m := range list.Data {
		if m.ID == c.cfg.Model {
			return nil
		}
	}
	return fmt.Errorf("model %q not served by runtime", c.cfg.Model)
}
