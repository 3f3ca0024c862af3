package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Platform sends events through the easyweb3 PaaS: a broadcast to the project's
// configured channels plus an audit log line.
type Platform struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

func (p *Platform) Login(ctx context.Context) error {
	base := p.base()
	if base == "" {
		return errors.New("platform base url is empty")
	}
	apiKey := strings.TrimSpace(p.APIKey)
	if apiKey == "" {
		return errors.New("platform api key is empty")
	}

	body, _ := json.Marshal(map[string]any{"api_key": apiKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("platform login http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var lr loginResponse
	if err := json.Unmarshal(b, &lr); err != nil {
		return err
	}
	exp, _ := time.Parse(time.RFC3339, strings.TrimSpace(lr.ExpiresAt))

	p.mu.Lock()
	p.token = strings.TrimSpace(lr.Token)
	p.expiresAt = exp
	p.mu.Unlock()
	return nil
}

func (p *Platform) ensureToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	tok := p.token
	exp := p.expiresAt
	p.mu.RUnlock()
	if tok == "" || (!exp.IsZero() && time.Until(exp) < 2*time.Minute) {
		if err := p.Login(ctx); err != nil {
			return "", err
		}
		p.mu.RLock()
		tok = p.token
		p.mu.RUnlock()
	}
	return tok, nil
}

func (p *Platform) Notify(ctx context.Context, ev Event) error {
	if p == nil || p.base() == "" {
		return nil
	}
	err := p.post(ctx, "/api/v1/notify/broadcast", map[string]any{
		"event":   ev.Type,
		"message": ev.Message,
	})
	logErr := p.Log(ctx, ev.Type, "warn", eventDetails(ev))
	return errors.Join(err, logErr)
}

// Log writes an audit line to the platform log stream.
func (p *Platform) Log(ctx context.Context, action, level string, details map[string]any) error {
	if p == nil || p.base() == "" {
		return nil
	}
	return p.post(ctx, "/api/v1/logs", map[string]any{
		"agent":       "sipengine",
		"action":      action,
		"level":       level,
		"details":     details,
		"session_key": "",
		"metadata":    map[string]any{},
	})
}

func (p *Platform) post(ctx context.Context, path string, body any) error {
	tok, err := p.ensureToken(ctx)
	if err != nil {
		return err
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base()+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bb, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("platform %s http %d: %s", path, resp.StatusCode, strings.TrimSpace(string(bb)))
	}
	return nil
}

func (p *Platform) base() string {
	return strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
}

func (p *Platform) httpClient() *http.Client {
	if p.HTTP != nil {
		return p.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func eventDetails(ev Event) map[string]any {
	out := map[string]any{
		"subscription_id": ev.SubscriptionID,
		"account_id":      ev.AccountID,
		"period":          ev.Period,
		"reason":          ev.Reason,
		"at":              ev.At.UTC().Format(time.RFC3339),
	}
	for k, v := range ev.Details {
		out[k] = v
	}
	return out
}
