package monitor

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/adhoc-collector/internal/testutil"
)

func TestMonitor_SendAlarm(t *testing.T) {
	m := New(testutil.NewTestLogger())

	m.SendAlarm(CheckpointAlarm, "create dir failed")
	m.SendAlarm(CheckpointAlarm, "dump failed")
	m.SendAlarm(ProcessQueueBusyAlarm, "queue full")

	assert.Equal(t, 2.0, promtest.ToFloat64(m.alarms.WithLabelValues(string(CheckpointAlarm))))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.alarms.WithLabelValues(string(ProcessQueueBusyAlarm))))
	assert.Equal(t, 0.0, promtest.ToFloat64(m.alarms.WithLabelValues(string(ReadFileAlarm))))
}

func TestMonitor_Counters(t *testing.T) {
	m := New(testutil.NewTestLogger())

	m.ObserveEvent("read_file")
	m.ObserveEvent("read_file")
	m.AddBytesRead("job1", 40)
	m.AddBytesRead("job1", 60)

	assert.Equal(t, 2.0, promtest.ToFloat64(m.events.WithLabelValues("read_file")))
	assert.Equal(t, 100.0, promtest.ToFloat64(m.bytesRead.WithLabelValues("job1")))
}

func TestMonitor_Handler(t *testing.T) {
	m := New(testutil.NewTestLogger())
	m.SendAlarm(ReadFileAlarm, "missing")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `adhoc_collector_alarms_total{type="read_file"} 1`))
}
