package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorRecords(t *testing.T) {
	c := NewCollector("promemoria")

	c.RecordMutation("add")
	c.RecordMutation("add")
	c.RecordFallback("toggle")
	c.RecordLocalSaveError()
	c.SetAppointments(3)
	c.RecordHTTPRequest(http.MethodGet, "/api/appointments", http.StatusOK, 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Mutations.WithLabelValues("add")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RemoteFallbacks.WithLabelValues("toggle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.LocalSaveErrors))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.Appointments))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/api/appointments", "200")))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector("promemoria")
	b := NewCollector("promemoria")
	a.RecordMutation("remove")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Mutations.WithLabelValues("remove")))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordMutation("add")
		c.RecordFallback("add")
		c.RecordLocalSaveError()
		c.SetAppointments(1)
		c.RecordHTTPRequest("GET", "/", 200, time.Second)
	})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("promemoria")
	c.RecordMutation("add")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `promemoria_mutations_total{op="add"} 1`)
}
