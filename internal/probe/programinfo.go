package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"

	"github.com/hamed0406/fcpenroll/internal/config"
	"github.com/hamed0406/fcpenroll/internal/domain"
)

const (
	programInfoPath = "/v1/free_connector_program/get_info_for_workspace"
	maxBodySize     = 1 << 20 // 1MB
)

type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Resolver, when set, caches DNS lookups of the backend host.
	Resolver *dnscache.Resolver
}

// ProgramInfoClient asks the cloud backend for a workspace's program info.
type ProgramInfoClient struct {
	Client  *http.Client
	baseURL string
	token   string
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("program info: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("program info: unexpected status %d: %s", e.StatusCode, e.Body)
}

func NewProgramInfoClient(cfg ClientConfig) (*ProgramInfoClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, &config.MissingConfigError{Key: "CLOUD_API_URL"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	if cfg.Resolver != nil {
		hc.Transport = cachingTransport(cfg.Resolver)
	}
	return &ProgramInfoClient{
		Client:  hc,
		baseURL: base,
		token:   cfg.Token,
	}, nil
}

func (c *ProgramInfoClient) BaseURL() string { return c.baseURL }

type programInfoRequest struct {
	WorkspaceID domain.WorkspaceID `json:"workspaceId"`
}

func (c *ProgramInfoClient) GetProgramInfo(ctx context.Context, ws domain.WorkspaceID) (domain.ProgramInfo, error) {
	var info domain.ProgramInfo

	body, err := json.Marshal(programInfoRequest{WorkspaceID: ws})
	if err != nil {
		return info, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+programInfoPath, bytes.NewReader(body))
	if err != nil {
		return info, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return info, fmt.Errorf("program info request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return info, fmt.Errorf("read program info: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return info, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return info, fmt.Errorf("decode program info: %w", err)
	}
	return info, nil
}
