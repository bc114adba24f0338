package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledInstallsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	_, span := Tracer("").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestMiddlewareExportsSpans(t *testing.T) {
	var out bytes.Buffer
	shutdown, err := Init(context.Background(), Options{Enabled: true, ServiceName: "qp-test", Writer: &out})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = Init(context.Background(), Options{}) })

	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/v1/tenants/{tenant_id}/alerts", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tenants/acme/alerts", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, out.String(), "/v1/tenants/{tenant_id}/alerts")
	assert.Contains(t, out.String(), "qp-test")
}
