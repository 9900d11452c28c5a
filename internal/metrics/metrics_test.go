// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetrics(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveLoad(time.Second, 1, 4096, nil)
		m.ObserveRotation(1, nil)
		m.ObserveCheckpoint(4096, errors.New("boom"))
	})
}

func TestObserve(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveLoad(10*time.Millisecond, 3, 8192, nil)
	m.ObserveLoad(time.Millisecond, 4, 0, errors.New("bad magic"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues(ResultError)))
	// a failed load leaves the serving generation alone
	assert.Equal(t, 3.0, testutil.ToFloat64(m.generation))
	assert.Equal(t, 8192.0, testutil.ToFloat64(m.snapshotSize))

	m.ObserveRotation(7, nil)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.rotatedVersion))

	m.ObserveCheckpoint(4096000, nil)
	assert.Equal(t, 4096000.0, testutil.ToFloat64(m.checkpointSize))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
