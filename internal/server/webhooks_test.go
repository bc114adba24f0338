package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"quarterplan/internal/config"
	"quarterplan/internal/engine"
)

func TestWebhookDispatcherDeliversWithRetry(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	var (
		mu       sync.Mutex
		attempts int
		got      []webhookEvent
		headers  http.Header
	)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		got = append(got, evt)
		headers = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	cfg := config.Default(testTenant)
	cfg.Webhooks = []config.WebhookConfig{{
		URL:        receiver.URL,
		Events:     []string{"squad.*"},
		Secret:     "s3cret",
		MaxRetries: 2,
	}}
	if err := srv.engine.ImportTenantConfig(ctx, testTenant, cfg, "alice"); err != nil {
		t.Fatalf("import config: %v", err)
	}

	d := NewWebhookDispatcher(srv.engine, nil)
	d.DispatchOnce(ctx)

	if _, err := srv.engine.CreateSquad(ctx, engine.SquadCreateOptions{ID: "SQ-1", TenantID: testTenant, Name: "Core", ActorID: "alice"}); err != nil {
		t.Fatalf("create squad: %v", err)
	}
	if _, err := srv.engine.ReportCapacity(ctx, engine.CapacityReportOptions{TenantID: testTenant, SquadID: "SQ-1", Quarter: "Q3-2024", Total: 100, Used: 50, ActorID: "alice"}); err != nil {
		t.Fatalf("report capacity: %v", err)
	}
	d.DispatchOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Fatalf("expected one retry, got %d attempts", attempts)
	}
	if len(got) != 1 || got[0].Type != "squad.create" || got[0].EntityID != "SQ-1" {
		t.Fatalf("unexpected deliveries %+v", got)
	}
	if headers.Get("X-Quarterplan-Tenant") != testTenant || headers.Get("X-Quarterplan-Secret") != "s3cret" {
		t.Fatalf("missing delivery headers: %v", headers)
	}
}

func TestEventFilterWildcards(t *testing.T) {
	f := newEventFilter([]string{"scenario.*", "capacity.report", "tenant.config.*", " "})
	for evt, want := range map[string]bool{
		"scenario.simulate":    true,
		"capacity.report":      true,
		"capacity.buffer":      false,
		"squad.create":         false,
		"tenant.config.import": true,
		"tenant.config.a.b":    true,
		"tenant.init":          false,
		"tenant.configure":     false,
	} {
		if f.match(evt) != want {
			t.Fatalf("match(%q) = %v", evt, !want)
		}
	}
	if !newEventFilter(nil).match("anything") {
		t.Fatalf("empty filter should match all")
	}
}
