//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package metrics_test

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/logstore/metrics"
)

func TestMetrics(t *testing.T) {
	before := metrics.Get(metrics.RequestsFind)
	metrics.Add(metrics.RequestsFind, 1)
	assert.Equal(t, before+1, metrics.Get(metrics.RequestsFind))
	metrics.Add(metrics.RequestsFind, 1)
	assert.Equal(t, before+2, metrics.Get(metrics.RequestsFind))
	metrics.Add(metrics.Max+1, 1)
	metrics.Add(-1, 1)
	metrics.Add(metrics.PollWait, 9)
	metrics.Add(metrics.PollEvents, 99)
	metrics.Add(metrics.GuardReadAcquired, 3)
	metrics.Add(metrics.GuardReadWaitNanos, 300)
	metrics.Add(metrics.GuardWriteAcquired, 1)
	assert.Equal(t, uint64(0), metrics.Get(metrics.Max+1))
	assert.Equal(t, "", metrics.Name(metrics.Max))
	assert.Equal(t, "requests_find", metrics.Name(metrics.RequestsFind))
	metrics.ShowMetrics()
	metrics.ShowMetricsOfPeriod(time.Millisecond)
}

func TestMetricNamesComplete(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < metrics.Max; i++ {
		n := metrics.Name(i)
		require.NotEmpty(t, n, "metric %d has no name", i)
		assert.False(t, seen[n], "duplicate name %s", n)
		seen[n] = true
	}
}

func TestCollector(t *testing.T) {
	c := metrics.NewCollector("logstore")
	reg := prometheus.NewPedanticRegistry()
	require.Nil(t, reg.Register(c))
	assert.Equal(t, metrics.Max, testutil.CollectAndCount(c))

	metrics.Add(metrics.ConnsAccepted, 5)
	want := metrics.Get(metrics.ConnsAccepted)
	expected := strings.NewReader(
		"# HELP logstore_conns_accepted_total logstore counter conns_accepted.\n" +
			"# TYPE logstore_conns_accepted_total counter\n" +
			"logstore_conns_accepted_total " + strconv.FormatUint(want, 10) + "\n")
	assert.Nil(t, testutil.CollectAndCompare(c, expected, "logstore_conns_accepted_total"))
}
