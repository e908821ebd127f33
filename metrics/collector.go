// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports the counter table to Prometheus. Every counter becomes a
// "<namespace>_<name>_total" counter.
type Collector struct {
	descs [Max]*prometheus.Desc
}

// NewCollector creates a Collector under namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{}
	for i := 0; i < Max; i++ {
		c.descs[i] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", names[i]+"_total"),
			"logstore counter "+names[i]+".",
			nil, nil,
		)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := GetAll()
	for i, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(m[i]))
	}
}
