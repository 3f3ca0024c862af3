package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestWebhook_PostsPayload(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("method=%s content-type=%s", r.Method, r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ev := Event{Type: EventSubscriptionAutoPaused, SubscriptionID: 7, Reason: "insufficient_funds", Message: "paused", At: time.Now()}
	if err := (Webhook{URL: srv.URL}).Notify(context.Background(), ev); err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.Event != EventSubscriptionAutoPaused || got.Project != "sipengine" || got.Data.SubscriptionID != 7 {
		t.Fatalf("payload=%+v", got)
	}
}

func TestWebhook_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := (Webhook{URL: srv.URL}).Notify(context.Background(), Event{Type: EventExecutionFailed})
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusBadGateway {
		t.Fatalf("err=%v", err)
	}
}

func TestPlatform_LoginThenBroadcastAndLog(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
		auth  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		auth = append(auth, r.Header.Get("Authorization"))
		mu.Unlock()
		if r.URL.Path == "/api/v1/auth/login" {
			_ = json.NewEncoder(w).Encode(map[string]string{
				"token":      "tok-1",
				"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := &Platform{BaseURL: srv.URL + "/", APIKey: "key"}
	for i := 0; i < 2; i++ {
		if err := p.Notify(context.Background(), Event{Type: EventExecutionFailed, SubscriptionID: 3}); err != nil {
			t.Fatalf("err=%v", err)
		}
	}

	want := []string{"/api/v1/auth/login", "/api/v1/notify/broadcast", "/api/v1/logs", "/api/v1/notify/broadcast", "/api/v1/logs"}
	if len(paths) != len(want) {
		t.Fatalf("paths=%v want=%v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("paths=%v want=%v", paths, want)
		}
	}
	if auth[1] != "Bearer tok-1" {
		t.Fatalf("authorization=%q", auth[1])
	}
}

type recorder struct {
	events []Event
	err    error
}

func (r *recorder) Notify(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	a := &recorder{}
	b := &recorder{err: errors.New("down")}
	err := Multi{a, nil, b}.Notify(context.Background(), Event{Type: EventExecutionFailed})
	if err == nil || len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("err=%v a=%d b=%d", err, len(a.events), len(b.events))
	}
}
