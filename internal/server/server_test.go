package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"golang.org/x/sync/errgroup"

	"quarterplan/internal/config"
	"quarterplan/internal/db"
	"quarterplan/internal/engine"
	"quarterplan/internal/insight"
	"quarterplan/internal/migrate"
)

const (
	testTenant = "acme"
	testSecret = "test-secret"
)

type testServer struct {
	URL    string
	engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := engine.New(conn, config.Default(testTenant))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if _, err := e.InitTenant(context.Background(), engine.TenantInitOptions{ID: testTenant, Name: "Acme", OwnerID: "alice", ActorID: "alice"}); err != nil {
		t.Fatalf("init tenant: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func alice() map[string]string { return map[string]string{"X-Actor-Id": "alice"} }

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestOverloadAlertOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	base := srv.URL + "/v1/tenants/" + testTenant

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/squads", map[string]any{
		"id": "SQ-1", "name": "Core", "slug": "core",
	}, alice())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create squad: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPut, base+"/capacity", map[string]any{
		"squad_id": "SQ-1", "quarter": "Q3-2024", "total_capacity": 100, "used_capacity": 115,
	}, alice())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("report capacity: %d %s", res.StatusCode, string(data))
	}
	var snap CapacityResponse
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal capacity: %v", err)
	}
	if !snap.Overloaded || snap.UtilizationPercent != 115 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/alerts?quarter=Q3-2024", nil, alice())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("alerts: %d %s", res.StatusCode, string(data))
	}
	var alerts []insight.Alert
	if err := json.Unmarshal(data, &alerts); err != nil {
		t.Fatalf("unmarshal alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Message != "Squad SQ-1 acima de 110% (115.0%)" {
		t.Fatalf("unexpected alerts %+v", alerts)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/alerts?quarter=2024-Q3", nil, alice())
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad quarter, got %d %s", res.StatusCode, string(data))
	}
}

func TestSelfDependencyRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	base := srv.URL + "/v1/tenants/" + testTenant

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/epics", map[string]any{
		"id": "E-1", "title": "Checkout", "quarter": "Q3-2024",
	}, alice())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create epic: %d %s", res.StatusCode, string(data))
	}
	for i, want := range []int{http.StatusCreated, http.StatusOK} {
		res, data = doJSON(t, srv.Client(), http.MethodPut, base+"/features/F-1", map[string]any{
			"epic_id": "E-1", "title": "Cart", "estimate": 3,
		}, alice())
		if res.StatusCode != want {
			t.Fatalf("upsert #%d: want %d got %d %s", i, want, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/dependencies", map[string]any{
		"blocked_feature_id": "F-1", "blocking_feature_id": "F-1",
	}, alice())
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "validation_failed" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestUnknownSquadNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tenants/"+testTenant+"/squads/SQ-404", nil, alice())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestPermissionsEnforced(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	base := srv.URL + "/v1/tenants/" + testTenant

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/squads", map[string]any{"name": "Rogue"},
		map[string]string{"X-Actor-Id": "mallory"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/rbac/roles/grant", map[string]any{
		"actor_id": "mallory", "role_id": "viewer",
	}, alice())
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("grant: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/me/permissions", nil, map[string]string{"X-Actor-Id": "mallory"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("whoami: %d %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal whoami: %v", err)
	}
	if len(who.Roles) != 1 || who.Roles[0] != "viewer" {
		t.Fatalf("unexpected roles %+v", who.Roles)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, base+"/squads", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}
}

func TestJWTTenantPinning(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	token, err := SignToken(testSecret, "alice", testTenant, nil, nil, 0)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	bearer := map[string]string{"Authorization": "Bearer " + token}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tenants/"+testTenant+"/squads", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list squads with jwt: %d %s", res.StatusCode, string(data))
	}

	if _, err := srv.engine.InitTenant(context.Background(), engine.TenantInitOptions{ID: "globex", OwnerID: "alice", ActorID: "alice"}); err != nil {
		t.Fatalf("init globex: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tenants/globex/squads", nil, bearer)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for other tenant, got %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tenants/"+testTenant+"/squads", nil,
		map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	base := srv.URL + "/v1/tenants/" + testTenant

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/me/api-keys", map[string]any{"name": "ci"}, alice())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key: %d %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if key.Key == "" || key.TenantID != testTenant {
		t.Fatalf("unexpected key %+v", key)
	}
	withKey := map[string]string{"X-Api-Key": key.Key}
	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/squads", nil, withKey)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list with api key: %d %s", res.StatusCode, string(data))
	}

	// alice owns globex too, but the key only opens acme.
	if _, err := srv.engine.InitTenant(context.Background(), engine.TenantInitOptions{ID: "globex", OwnerID: "alice", ActorID: "alice"}); err != nil {
		t.Fatalf("init globex: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tenants/globex/squads", nil, withKey)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on other tenant, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/me/api-keys", nil, alice())
	var keys []APIKeyResponse
	if err := json.Unmarshal(data, &keys); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("list keys: %d %s", res.StatusCode, string(data))
	}
	if len(keys) != 1 || keys[0].Key != "" || keys[0].LastUsedAt == nil {
		t.Fatalf("unexpected key listing %+v", keys)
	}

	res, data = doJSON(t, srv.Client(), http.MethodDelete, base+"/me/api-keys/"+key.ID, nil, alice())
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, base+"/squads", nil, withKey)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after revoke, got %d", res.StatusCode)
	}
}

func TestDeleteTenantRequiresPermission(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	base := srv.URL + "/v1/tenants/" + testTenant

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/rbac/roles/grant", map[string]any{"actor_id": "pat", "role_id": "planner"}, alice())
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("grant planner: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodDelete, base, nil, map[string]string{"X-Actor-Id": "pat"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for planner, got %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.Client(), http.MethodDelete, base, nil, alice())
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete tenant: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, base+"/squads", nil, alice())
	if res.StatusCode == http.StatusOK {
		t.Fatalf("tenant still readable after delete")
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	base := srv.URL + "/v1/tenants/" + testTenant
	for _, id := range []string{"SQ-1", "SQ-2", "SQ-3"} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/squads", map[string]any{"id": id, "name": id}, alice())
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create %s: %d %s", id, res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, base+"/events?entity_kind=squad&limit=2", nil, alice())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("unexpected first page %+v", page)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/events?entity_kind=squad&limit=2&cursor="+page.NextCursor, nil, alice())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2: %d %s", res.StatusCode, string(data))
	}
	page = paginatedEvents{}
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 1 || page.NextCursor != "" {
		t.Fatalf("unexpected second page %+v", page)
	}
}

func TestOpenEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
	if !strings.Contains(string(data), "/v1/tenants/{tenant_id}/scenarios/{scenario_id}/simulate") {
		t.Fatalf("openapi spec misses simulate route")
	}
}

func TestOpenAPIDocumentConcurrentFirstRequests(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	const n = 8
	docs := make([][]byte, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := srv.Client().Get(srv.URL + "/v1/openapi.json")
			if err != nil {
				return err
			}
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				return fmt.Errorf("status %d", res.StatusCode)
			}
			docs[i], err = io.ReadAll(res.Body)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("openapi: %v", err)
	}
	for i := 1; i < n; i++ {
		if !bytes.Equal(docs[0], docs[i]) {
			t.Fatalf("document %d differs from the first", i)
		}
	}
	if len(docs[0]) == 0 {
		t.Fatalf("empty document")
	}
}
