// Package monitor raises operational alarms and exposes collector metrics.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GabrielNunesIT/go-libs/logger"
)

// AlarmType classifies an operational alarm for external monitoring.
type AlarmType string

const (
	// CheckpointAlarm is raised when the checkpoint directory cannot be
	// created, enumerated or written.
	CheckpointAlarm AlarmType = "checkpoint"
	// ProcessQueueBusyAlarm is raised when a job cannot read because the
	// downstream processing queue is saturated.
	ProcessQueueBusyAlarm AlarmType = "process_queue_busy"
	// ReadFileAlarm is raised when a file of a job cannot be located, opened or read.
	ReadFileAlarm AlarmType = "read_file"
)

// AlarmSender raises alarms. Implementations must be safe for concurrent use.
type AlarmSender interface {
	SendAlarm(t AlarmType, msg string)
}

// Monitor counts alarms and engine activity in its own Prometheus registry.
type Monitor struct {
	registry  *prometheus.Registry
	alarms    *prometheus.CounterVec
	events    *prometheus.CounterVec
	bytesRead *prometheus.CounterVec
	logger    logger.ILogger
}

// New creates a monitor with a private registry.
func New(log logger.ILogger) *Monitor {
	m := &Monitor{
		registry: prometheus.NewRegistry(),
		alarms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adhoc_collector",
			Name:      "alarms_total",
			Help:      "Operational alarms raised, by type.",
		}, []string{"type"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adhoc_collector",
			Name:      "engine_events_total",
			Help:      "Events processed by the ingestion engine, by kind.",
		}, []string{"kind"}),
		bytesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adhoc_collector",
			Name:      "bytes_read_total",
			Help:      "Bytes read from adhoc files and handed downstream, by job.",
		}, []string{"job"}),
		logger: log.SubLogger("Monitor"),
	}

	m.registry.MustRegister(m.alarms, m.events, m.bytesRead)
	return m
}

// SendAlarm records the alarm and logs it at warning level.
func (m *Monitor) SendAlarm(t AlarmType, msg string) {
	m.alarms.WithLabelValues(string(t)).Inc()
	m.logger.Warningf("alarm raised: type=%s, message=%s", t, msg)
}

// ObserveEvent counts one processed engine event.
func (m *Monitor) ObserveEvent(kind string) {
	m.events.WithLabelValues(kind).Inc()
}

// AddBytesRead counts bytes handed downstream for a job.
func (m *Monitor) AddBytesRead(job string, n int) {
	m.bytesRead.WithLabelValues(job).Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Monitor) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	m.logger.Infof("metrics server listening: address=%s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
