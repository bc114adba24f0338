package quarterplansdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarterplan/internal/config"
	"quarterplan/internal/db"
	"quarterplan/internal/engine"
	"quarterplan/internal/migrate"
	"quarterplan/internal/server"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	e, err := engine.New(conn, config.Default("acme"))
	require.NoError(t, err)
	_, err = e.InitTenant(context.Background(), engine.TenantInitOptions{ID: "acme", OwnerID: "alice", ActorID: "alice"})
	require.NoError(t, err)
	handler, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: "sdk-secret"}})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	token, err := server.SignToken("sdk-secret", "alice", "acme", nil, nil, 0)
	require.NoError(t, err)
	c := New(ts.URL, "acme")
	c.BearerToken = token
	return c
}

func TestClientCapacityFlow(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	squad, err := c.CreateSquad(ctx, "SQ-1", "Core")
	require.NoError(t, err)
	assert.Equal(t, "SQ-1", squad.ID)

	snap, err := c.ReportCapacity(ctx, "SQ-1", "Q3-2024", 100, 115)
	require.NoError(t, err)
	assert.True(t, snap.Overloaded)

	alerts, err := c.Alerts(ctx, "Q3-2024")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Squad SQ-1 acima de 110% (115.0%)", alerts[0].Message)

	sc, err := c.CreateScenario(ctx, "Hire two", "Q3-2024", []SquadAdjustment{{SquadID: "SQ-1", DeltaPercent: 20}})
	require.NoError(t, err)
	sim, err := c.Simulate(ctx, sc.ID)
	require.NoError(t, err)
	require.NotNil(t, sim.Scenario.Result)
	require.Len(t, sim.Squads, 1)
	assert.InDelta(t, 120, sim.Squads[0].Available, 0.001)

	page, err := c.EventsPage(ctx, 2, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextCursor)
}

func TestClientErrors(t *testing.T) {
	c := newClient(t)
	_, err := c.AddDependency(context.Background(), "F-1", "F-1", "")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnprocessableEntity), "got %v", err)

	c.BearerToken = ""
	_, err = c.Alerts(context.Background(), "Q3-2024")
	assert.True(t, IsStatus(err, http.StatusUnauthorized), "got %v", err)
}
