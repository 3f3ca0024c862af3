package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Webhook POSTs each event as JSON to a fixed URL.
type Webhook struct {
	URL     string
	Project string
	HTTP    *http.Client
}

type WebhookPayload struct {
	Project string `json:"project"`
	Event   string `json:"event"`
	Message string `json:"message"`
	Data    Event  `json:"data"`
}

func (w Webhook) Notify(ctx context.Context, ev Event) error {
	url := strings.TrimSpace(w.URL)
	if url == "" {
		return nil
	}
	project := w.Project
	if project == "" {
		project = "sipengine"
	}
	b, err := json.Marshal(WebhookPayload{
		Project: project,
		Event:   ev.Type,
		Message: ev.Message,
		Data:    ev,
	})
	if err != nil {
		return err
	}
	client := w.HTTP
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode}
	}
	return nil
}

type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return "notify http status " + http.StatusText(e.StatusCode)
}
