// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package metrics defines the Prometheus collectors for snapshot loads,
// rotations and checkpoints.  A nil *Metrics is valid and records
// nothing, so components can take one unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bitsnap"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics is the set of collectors shared by the snapshot components.
type Metrics struct {
	reloads        *prometheus.CounterVec
	generation     prometheus.Gauge
	loadDuration   prometheus.Histogram
	snapshotSize   prometheus.Gauge
	rotations      *prometheus.CounterVec
	rotatedVersion prometheus.Gauge
	checkpoints    *prometheus.CounterVec
	checkpointSize prometheus.Gauge
}

// New creates the collectors and registers them with registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "attempts_total",
			Help:      "Snapshot load attempts by result",
		}, []string{"result"}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "generation",
			Help:      "Generation of the snapshot currently serving lookups",
		}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "load_duration_seconds",
			Help:      "Time taken to map, validate and prefetch a snapshot",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		snapshotSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "snapshot_size_bytes",
			Help:      "Size of the snapshot file currently serving lookups",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotate",
			Name:      "publishes_total",
			Help:      "Snapshot build and publish cycles by result",
		}, []string{"result"}),
		rotatedVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rotate",
			Name:      "published_version",
			Help:      "Model version of the most recently published snapshot",
		}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "writes_total",
			Help:      "Checkpoint writes by result",
		}, []string{"result"}),
		checkpointSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "size_bytes",
			Help:      "Size of the most recent checkpoint file",
		}),
	}

	registry.MustRegister(
		m.reloads,
		m.generation,
		m.loadDuration,
		m.snapshotSize,
		m.rotations,
		m.rotatedVersion,
		m.checkpoints,
		m.checkpointSize,
	)

	return m
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// ObserveLoad records a load attempt.  size and generation are only
// used when the load succeeded.
func (m *Metrics) ObserveLoad(d time.Duration, generation uint64, size int64, err error) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(result(err)).Inc()
	if err != nil {
		return
	}
	m.loadDuration.Observe(d.Seconds())
	m.generation.Set(float64(generation))
	if size > 0 {
		m.snapshotSize.Set(float64(size))
	}
}

// ObserveRotation records a build-and-publish cycle.
func (m *Metrics) ObserveRotation(version uint32, err error) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.rotatedVersion.Set(float64(version))
	}
}

// ObserveCheckpoint records a checkpoint write of n bytes.
func (m *Metrics) ObserveCheckpoint(n int64, err error) {
	if m == nil {
		return
	}
	m.checkpoints.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.checkpointSize.Set(float64(n))
	}
}
