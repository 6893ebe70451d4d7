package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Slack struct {
	Webhook string
	Client  *http.Client
}

// NewSlack returns nil when no webhook is configured.
func NewSlack(webhook string) *Slack {
	if webhook == "" {
		return nil
	}
	return &Slack{
		Webhook: webhook,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

var severityIcon = map[Severity]string{
	SeveritySuccess: "🟢",
	SeverityError:   "🔴",
	SeverityWarning: "🟠",
	SeverityInfo:    "🔵",
}

func (s *Slack) Send(ctx context.Context, n Notification) error {
	if s == nil || s.Webhook == "" {
		return errors.New("slack disabled")
	}
	icon := severityIcon[n.Severity]
	if icon == "" {
		icon = severityIcon[SeverityInfo]
	}
	title := n.ID
	if n.WorkspaceID != "" {
		title += " (" + n.WorkspaceID + ")"
	}
	body, err := json.Marshal(slackPayload{Text: fmt.Sprintf("%s *%s*\n%s", icon, title, n.Text)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("slack non-2xx: %d", resp.StatusCode)
	}
	return nil
}
