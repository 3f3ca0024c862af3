package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipengine/internal/config"
	gormrepository "sipengine/internal/repository/gorm"
	"sipengine/internal/scheduler"
	"sipengine/internal/service"
	"sipengine/internal/subscription"
	"sipengine/internal/testutil"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

type apiFixture struct {
	router *gin.Engine
	seed   testutil.Seeded
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	d := testutil.NewDB(t)
	store := gormrepository.New(d.Gorm)
	seed := testutil.SeedBundle(t, store,
		testutil.DealSpec{Name: "A", Pct: "70", Core: true, MinTicket: "500"},
		testutil.DealSpec{Name: "B", Pct: "30", MinTicket: "500"},
	)
	now := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	settings := &service.SystemSettingsService{Repo: store}
	machine := &subscription.Machine{Repo: store, Now: clock}
	coord := &scheduler.Coordinator{
		Repo:    store,
		Machine: machine,
		Flags:   settings,
		Config:  config.SchedulerConfig{Workers: 2, StaleAfter: 10 * time.Minute, MaxConsecutiveFailures: 3},
		Now:     clock,
	}
	router := NewRouter(Deps{
		DB:          d.Gorm,
		Repo:        store,
		Machine:     machine,
		Coordinator: coord,
		Settings:    settings,
	})
	return &apiFixture{router: router, seed: seed}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body=%s", rec.Body.String())
	}
	return rec.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out), "data=%s", string(raw))
	return out
}

type subView struct {
	ID        uint64     `json:"id"`
	Status    string     `json:"status"`
	NextDueAt *time.Time `json:"next_due_at"`
}

func TestHealth(t *testing.T) {
	f := newAPI(t)
	code, _ := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	f := newAPI(t)

	code, env := f.do(t, http.MethodPost, "/api/v1/subscriptions", map[string]any{
		"owner_account_id": "acct-1",
		"bundle_id":        f.seed.BundleID,
		"amount":           "0",
	})
	assert.Equal(t, http.StatusBadRequest, code, env.Message)

	code, env = f.do(t, http.MethodPost, "/api/v1/subscriptions", map[string]any{
		"owner_account_id": "acct-1",
		"bundle_id":        9999,
		"amount":           "3000",
	})
	assert.Equal(t, http.StatusNotFound, code, env.Message)

	code, env = f.do(t, http.MethodPost, "/api/v1/subscriptions", map[string]any{
		"owner_account_id": "acct-1",
		"bundle_id":        f.seed.BundleID,
		"amount":           "3000",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	sub := decode[subView](t, env.Data)
	assert.Equal(t, "active", sub.Status)
	base := fmt.Sprintf("/api/v1/subscriptions/%d", sub.ID)

	code, env = f.do(t, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, "paused", decode[subView](t, env.Data).Status)

	code, _ = f.do(t, http.MethodPost, base+"/pause", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, env = f.do(t, http.MethodPost, base+"/resume", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	resumed := decode[subView](t, env.Data)
	require.NotNil(t, resumed.NextDueAt)
	assert.True(t, resumed.NextDueAt.Equal(time.Date(2026, 4, 1, 2, 0, 0, 0, time.UTC)))

	code, _ = f.do(t, http.MethodPost, base+"/cancel", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodPost, base+"/resume", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, env = f.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", decode[subView](t, env.Data).Status)

	code, _ = f.do(t, http.MethodGet, "/api/v1/subscriptions/9999", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodGet, "/api/v1/subscriptions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBundleComposition(t *testing.T) {
	f := newAPI(t)
	path := fmt.Sprintf("/api/v1/bundles/%d/composition", f.seed.BundleID)
	a, b := f.seed.DealIDs[0], f.seed.DealIDs[1]

	code, env := f.do(t, http.MethodPut, path, map[string]any{"members": []map[string]any{
		{"deal_id": a, "allocation_pct": "60", "is_core": true},
		{"deal_id": b, "allocation_pct": "30"},
	}})
	assert.Equal(t, http.StatusBadRequest, code, env.Message)

	code, env = f.do(t, http.MethodPut, path, map[string]any{"members": []map[string]any{
		{"deal_id": a, "allocation_pct": "60", "is_core": true},
		{"deal_id": 9999, "allocation_pct": "40"},
	}})
	assert.Equal(t, http.StatusNotFound, code, env.Message)

	code, env = f.do(t, http.MethodPut, path, map[string]any{"members": []map[string]any{
		{"deal_id": a, "allocation_pct": "60", "is_core": true},
		{"deal_id": b, "allocation_pct": "40"},
	}})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	comp := decode[compositionResponse](t, env.Data)
	require.Len(t, comp.Members, 2)
	assert.True(t, comp.TotalPct.Equal(testutil.Dec("100")))
	assert.True(t, comp.Members[1].AllocationPct.Equal(testutil.Dec("40")))
	assert.True(t, comp.Members[0].MinTicket.Equal(testutil.Dec("500")))
}

func TestWalletCreditAndManualTick(t *testing.T) {
	f := newAPI(t)

	for i := 0; i < 2; i++ {
		code, env := f.do(t, http.MethodPost, "/api/v1/wallets/acct-1/credit", map[string]any{
			"amount":          "5000",
			"idempotency_key": "deposit-1",
		})
		require.Equal(t, http.StatusOK, code, env.Message)
		w := decode[walletResponse](t, env.Data)
		assert.True(t, w.Balance.Equal(testutil.Dec("5000")), "replayed credit must not double: %s", w.Balance)
	}

	code, env := f.do(t, http.MethodPost, "/api/v1/subscriptions", map[string]any{
		"owner_account_id": "acct-1",
		"bundle_id":        f.seed.BundleID,
		"amount":           "3000",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	sub := decode[subView](t, env.Data)

	code, env = f.do(t, http.MethodPost, "/api/v1/scheduler/tick", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	report := decode[scheduler.TickReport](t, env.Data)
	assert.Equal(t, 1, report.Succeeded)

	code, env = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/subscriptions/%d/investments", sub.ID), nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, env.Meta["total"])

	code, env = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/subscriptions/%d/attempts?status=succeeded", sub.ID), nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, env.Meta["total"])

	code, env = f.do(t, http.MethodGet, "/api/v1/wallets/acct-1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decode[walletResponse](t, env.Data).Balance.Equal(testutil.Dec("2000")))

	code, env = f.do(t, http.MethodPost, "/api/v1/scheduler/tick", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, decode[scheduler.TickReport](t, env.Data).Due)
}

func TestSwitches(t *testing.T) {
	f := newAPI(t)

	code, _ := f.do(t, http.MethodPut, "/api/v1/switches/nope", map[string]any{"enabled": false})
	assert.Equal(t, http.StatusNotFound, code)

	code, env := f.do(t, http.MethodPut, "/api/v1/switches/sip_scheduler", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = f.do(t, http.MethodGet, "/api/v1/switches/sip_scheduler", nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, decode[switchView](t, env.Data).Enabled)

	code, env = f.do(t, http.MethodPost, "/api/v1/scheduler/tick", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decode[scheduler.TickReport](t, env.Data).Disabled)
}
