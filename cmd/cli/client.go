package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hamed0406/fcpenroll/internal/domain"
	"github.com/hamed0406/fcpenroll/internal/enrollment"
	"github.com/hamed0406/fcpenroll/internal/notify"
)

type apiClient struct {
	base string
	key  string
	http *http.Client
}

func newAPIClient(base, key string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		key:  key,
		http: &http.Client{
			Timeout: timeout,
			// the API answers a confirmed enrollment with a redirect; report it
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

type statusView struct {
	domain.EnrollmentStatus
	UserDidEnroll bool `json:"userDidEnroll"`
}

type confirmView struct {
	Enrolled     bool
	Redirect     string
	Status       *domain.EnrollmentStatus
	Notification *notify.Notification
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	if c.key != "" {
		req.Header.Set("X-API-Key", c.key)
	}
	return c.http.Do(req)
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("api: %s (%d)", e.Error, resp.StatusCode)
	}
	return fmt.Errorf("api: unexpected status %s", resp.Status)
}

func workspacePath(ws string) string {
	return "/api/workspaces/" + url.PathEscape(ws) + "/fcp"
}

func (c *apiClient) Status(ctx context.Context, ws string) (statusView, error) {
	var out statusView
	resp, err := c.get(ctx, workspacePath(ws))
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode status: %w", err)
	}
	return out, nil
}

func (c *apiClient) Confirm(ctx context.Context, ws string) (confirmView, error) {
	var out confirmView
	resp, err := c.get(ctx, workspacePath(ws)+"?"+enrollment.SuccessMarker+"=true")
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusSeeOther:
		out.Enrolled = true
		out.Redirect = resp.Header.Get("Location")
		return out, nil
	case http.StatusOK:
		var body struct {
			Enrolled     bool                     `json:"enrolled"`
			Status       *domain.EnrollmentStatus `json:"status"`
			Notification *notify.Notification     `json:"notification"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return out, fmt.Errorf("decode confirmation: %w", err)
		}
		out.Enrolled = body.Enrolled
		out.Status = body.Status
		out.Notification = body.Notification
		return out, nil
	default:
		return out, apiError(resp)
	}
}

func (c *apiClient) Notifications(ctx context.Context, ws string) ([]notify.Notification, error) {
	resp, err := c.get(ctx, "/api/workspaces/"+url.PathEscape(ws)+"/notifications")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var out []notify.Notification
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return out, nil
}
