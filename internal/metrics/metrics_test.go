package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	// Exercise the helpers so the collectors register observations.
	ObservePage("contratacoes-publicacao", "2xx", 50, 1024)
	ObserveClaim("granted")
	ObserveClaim("denied")
	ObserveTaskCompleted("contratacoes-publicacao")
	SetBytesSaved(500000)
	IncActiveWorkers()
	DecActiveWorkers()
	ObserveFetch("atas", 0)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "harvester_pages_total")
	require.Contains(t, rec.Body.String(), "harvester_claims_total")
}

func TestStatusClass(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2xx", StatusClass(200))
	require.Equal(t, "3xx", StatusClass(301))
	require.Equal(t, "4xx", StatusClass(429))
	require.Equal(t, "5xx", StatusClass(503))
	require.Equal(t, "unknown", StatusClass(0))
}
