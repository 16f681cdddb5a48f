package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHandlerServesPrometheusFormat(t *testing.T) {
	TasksTotal.WithLabelValues("ok").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "camp_tasks_total")
}

func TestTimerObserveDurationRecordsSomethingPositive(t *testing.T) {
	timer := NewTimer()
	time.Sleep(1 * time.Millisecond)
	timer.ObserveDuration(SchedulingLatency)
	assert.Greater(t, timer.Duration(), time.Duration(0))
}
