// observability.go: Metrics collection for the bridge
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricsCollector receives the bridge's counters, gauges and histograms.
// Implementations must be safe for concurrent use; host threads and plugin
// goroutines record metrics in parallel.
type MetricsCollector interface {
	IncrementCounter(name string, labels map[string]string, value int64)
	SetGauge(name string, labels map[string]string, value float64)
	RecordHistogram(name string, labels map[string]string, value float64)
	RecordCustomMetric(name string, labels map[string]string, value interface{})
	GetMetrics() map[string]interface{}
}

// DefaultMetricsCollector keeps metrics in memory, keyed by name and
// sorted labels ("name{k=v,...}").
type DefaultMetricsCollector struct {
	metrics map[string]interface{}
	mu      sync.RWMutex
}

// NewDefaultMetricsCollector creates a new default metrics collector
func NewDefaultMetricsCollector() *DefaultMetricsCollector {
	return &DefaultMetricsCollector{
		metrics: make(map[string]interface{}),
	}
}

func (dmc *DefaultMetricsCollector) IncrementCounter(name string, labels map[string]string, value int64) {
	dmc.mu.Lock()
	defer dmc.mu.Unlock()
	key := dmc.buildKey(name, labels)
	if current, exists := dmc.metrics[key]; exists {
		if counter, ok := current.(int64); ok {
			dmc.metrics[key] = counter + value
		}
	} else {
		dmc.metrics[key] = value
	}
}

func (dmc *DefaultMetricsCollector) SetGauge(name string, labels map[string]string, value float64) {
	dmc.mu.Lock()
	defer dmc.mu.Unlock()
	dmc.metrics[dmc.buildKey(name, labels)] = value
}

func (dmc *DefaultMetricsCollector) RecordHistogram(name string, labels map[string]string, value float64) {
	dmc.mu.Lock()
	defer dmc.mu.Unlock()
	key := dmc.buildKey(name, labels)
	if current, exists := dmc.metrics[key]; exists {
		if histogram, ok := current.([]float64); ok {
			dmc.metrics[key] = append(histogram, value)
		}
	} else {
		dmc.metrics[key] = []float64{value}
	}
}

func (dmc *DefaultMetricsCollector) RecordCustomMetric(name string, labels map[string]string, value interface{}) {
	dmc.mu.Lock()
	defer dmc.mu.Unlock()
	dmc.metrics[dmc.buildKey(name, labels)] = value
}

func (dmc *DefaultMetricsCollector) GetMetrics() map[string]interface{} {
	dmc.mu.RLock()
	defer dmc.mu.RUnlock()
	result := make(map[string]interface{}, len(dmc.metrics))
	for k, v := range dmc.metrics {
		if histogram, ok := v.([]float64); ok {
			v = append([]float64(nil), histogram...)
		}
		result[k] = v
	}
	return result
}

// Counter returns the value of a counter, or 0.
func (dmc *DefaultMetricsCollector) Counter(name string, labels map[string]string) int64 {
	dmc.mu.RLock()
	defer dmc.mu.RUnlock()
	if v, ok := dmc.metrics[dmc.buildKey(name, labels)].(int64); ok {
		return v
	}
	return 0
}

// Gauge returns the value of a gauge, or 0.
func (dmc *DefaultMetricsCollector) Gauge(name string, labels map[string]string) float64 {
	dmc.mu.RLock()
	defer dmc.mu.RUnlock()
	if v, ok := dmc.metrics[dmc.buildKey(name, labels)].(float64); ok {
		return v
	}
	return 0
}

func (dmc *DefaultMetricsCollector) buildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s{%s}", name, strings.Join(parts, ","))
}

// Metric names recorded by the bridge, without prefix.
const (
	MetricSessionsActive   = "sessions_active"
	MetricSessionsAttached = "sessions_attached_total"
	MetricMessages         = "messages_total"
	MetricMessageLatency   = "message_seconds"
	MetricFulfills         = "fulfill_total"
	MetricFulfillLatency   = "fulfill_seconds"
	MetricMediaEvents      = "media_events_total"
	MetricDroppedEvents    = "dropped_events_total"
	MetricCallbackPanics   = "callback_panics_total"
	MetricTeardownSeconds  = "teardown_seconds"
	MetricTokensCancelled  = "tokens_cancelled_total"
	MetricDrainTimeouts    = "drain_timeouts_total"
	MetricHostCallFailures = "host_call_failures_total"
)

// bridgeMetrics records the bridge's metrics under a prefix. A nil
// collector disables recording.
type bridgeMetrics struct {
	collector MetricsCollector
	prefix    string
}

func (m bridgeMetrics) name(metric string) string {
	if m.prefix == "" {
		return metric
	}
	return m.prefix + "_" + metric
}

func (m bridgeMetrics) count(metric string, labels map[string]string) {
	if m.collector != nil {
		m.collector.IncrementCounter(m.name(metric), labels, 1)
	}
}

func (m bridgeMetrics) observe(metric string, labels map[string]string, d time.Duration) {
	if m.collector != nil {
		m.collector.RecordHistogram(m.name(metric), labels, d.Seconds())
	}
}

func (m bridgeMetrics) sessionsActive(n int) {
	if m.collector != nil {
		m.collector.SetGauge(m.name(MetricSessionsActive), nil, float64(n))
	}
}

func (m bridgeMetrics) attached(result string) {
	m.count(MetricSessionsAttached, map[string]string{"result": result})
}

func (m bridgeMetrics) message(outcome string, d time.Duration) {
	labels := map[string]string{"outcome": outcome}
	m.count(MetricMessages, labels)
	m.observe(MetricMessageLatency, labels, d)
}

func (m bridgeMetrics) fulfillDone(err error, d time.Duration) {
	result := "ok"
	switch {
	case err == nil:
	case IsErrorCode(err, ErrCodeStaleToken):
		result = "stale"
	case IsErrorCode(err, ErrCodeTokenAlreadyConsumed):
		result = "consumed"
	default:
		result = "error"
	}
	labels := map[string]string{"result": result}
	m.count(MetricFulfills, labels)
	m.observe(MetricFulfillLatency, labels, d)
}

func (m bridgeMetrics) mediaEvent(t MediaEventType) {
	m.count(MetricMediaEvents, map[string]string{"type": t.String()})
}

func (m bridgeMetrics) dropped(callback string) {
	m.count(MetricDroppedEvents, map[string]string{"callback": callback})
}

func (m bridgeMetrics) panicked(operation string) {
	m.count(MetricCallbackPanics, map[string]string{"operation": operation})
}

func (m bridgeMetrics) hostCallFailed(op string) {
	m.count(MetricHostCallFailures, map[string]string{"operation": op})
}

func (m bridgeMetrics) teardown(d time.Duration, cancelled int, timedOut bool) {
	m.observe(MetricTeardownSeconds, nil, d)
	if m.collector != nil && cancelled > 0 {
		m.collector.IncrementCounter(m.name(MetricTokensCancelled), nil, int64(cancelled))
	}
	if timedOut {
		m.count(MetricDrainTimeouts, nil)
	}
}
