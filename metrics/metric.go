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

// Package metrics provides logstore runtime monitoring data, such as
// connection churn, request mix, poller efficiency and table lock waits.
package metrics

import (
	"time"

	"go.uber.org/atomic"
	"trpc.group/trpc-go/logstore/log"
)

// All metrics definitions.
const (
	// The following constants are connection metrics.

	ConnsAccepted = iota
	ConnsClosed
	ConnsRequeued

	// The following constants are request metrics.

	RequestsFind
	RequestsInsert
	RequestsScan
	RequestsBulkInsert
	RequestsDone
	RequestsInvalid
	RequestsIOFailed
	TuplesSent

	// The following constants are scheduler metrics.

	PollWait
	PollEvents
	TaskAssigned

	// The following constants are table guard metrics.

	GuardReadAcquired
	GuardWriteAcquired
	GuardReadWaitNanos
	GuardWriteWaitNanos

	// The following constants are client metrics.

	ClientConnects
	ClientConnFailures
	ClientTooManyTuples

	// Keep it last.

	Max
)

var names = [Max]string{
	ConnsAccepted:       "conns_accepted",
	ConnsClosed:         "conns_closed",
	ConnsRequeued:       "conns_requeued",
	RequestsFind:        "requests_find",
	RequestsInsert:      "requests_insert",
	RequestsScan:        "requests_scan",
	RequestsBulkInsert:  "requests_bulk_insert",
	RequestsDone:        "requests_done",
	RequestsInvalid:     "requests_invalid",
	RequestsIOFailed:    "requests_io_failed",
	TuplesSent:          "tuples_sent",
	PollWait:            "poll_wait",
	PollEvents:          "poll_events",
	TaskAssigned:        "task_assigned",
	GuardReadAcquired:   "guard_read_acquired",
	GuardWriteAcquired:  "guard_write_acquired",
	GuardReadWaitNanos:  "guard_read_wait_nanoseconds",
	GuardWriteWaitNanos: "guard_write_wait_nanoseconds",
	ClientConnects:      "client_connects",
	ClientConnFailures:  "client_conn_failures",
	ClientTooManyTuples: "client_too_many_tuples",
}

var (
	metrics [Max]atomic.Uint64
)

// Add metrics counter.
func Add(name int, delta uint64) {
	if name < 0 || name >= Max {
		return
	}
	metrics[name].Add(delta)
}

// Get one metric counter.
func Get(name int) uint64 {
	if name < 0 || name >= Max {
		return 0
	}
	return metrics[name].Load()
}

// Name returns the exported name of a metric, or "" if out of range.
func Name(name int) string {
	if name < 0 || name >= Max {
		return ""
	}
	return names[name]
}

// GetAll get all metrics.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metrics {
		m[i] = metrics[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on.
// It will block d duration, and then prints metrics info.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	new := GetAll()
	var m [Max]uint64
	for i := range metrics {
		m[i] = new[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics shows metric info in console.
func ShowMetrics() {
	m := GetAll()
	showAll(m)
}

func showAll(m [Max]uint64) {
	log.Debugf("######### logstore metrics (%s) ###########", time.Now().Format("2006-01-02 15:04:05"))
	showConnMetrics(m)
	showRequestMetrics(m)
	showSchedulerMetrics(m)
	showGuardMetrics(m)
}

func showConnMetrics(m [Max]uint64) {
	log.Debugf("%-59s: %d", "# CONN - number of connections accepted", m[ConnsAccepted])
	log.Debugf("%-59s: %d", "# CONN - number of connections closed", m[ConnsClosed])
	log.Debugf("%-59s: %d", "# CONN - requeued with buffered data", m[ConnsRequeued])
}

func showRequestMetrics(m [Max]uint64) {
	log.Debugf("%-59s: %d", "# REQ - FIND", m[RequestsFind])
	log.Debugf("%-59s: %d", "# REQ - INSERT", m[RequestsInsert])
	log.Debugf("%-59s: %d", "# REQ - SCAN", m[RequestsScan])
	log.Debugf("%-59s: %d", "# REQ - BULK_INSERT", m[RequestsBulkInsert])
	log.Debugf("%-59s: %d", "# REQ - DONE", m[RequestsDone])
	log.Debugf("%-59s: %d", "# REQ - invalid opcodes", m[RequestsInvalid])
	log.Debugf("%-59s: %d", "# REQ - aborted by I/O failure", m[RequestsIOFailed])
	log.Debugf("%-59s: %d", "# REQ - tuples sent", m[TuplesSent])
}

func showSchedulerMetrics(m [Max]uint64) {
	log.Debugf("%-59s: %d", "# POLL - number of poll wait returns", m[PollWait])
	log.Debugf("%-59s: %d", "# POLL - number of total events", m[PollEvents])
	if m[PollWait] > 0 {
		log.Debugf("%-59s: %.2f", "# POLL - average events number per wait",
			float32(m[PollEvents])/float32(m[PollWait]))
	}
	log.Debugf("%-59s: %d", "# POLL - number of task assigned", m[TaskAssigned])
}

func showGuardMetrics(m [Max]uint64) {
	log.Debugf("%-59s: %d", "# GUARD - read acquisitions", m[GuardReadAcquired])
	log.Debugf("%-59s: %d", "# GUARD - write acquisitions", m[GuardWriteAcquired])
	if m[GuardReadAcquired] > 0 {
		log.Debugf("%-59s: %v", "# GUARD - average read wait",
			time.Duration(m[GuardReadWaitNanos]/m[GuardReadAcquired]))
	}
	if m[GuardWriteAcquired] > 0 {
		log.Debugf("%-59s: %v", "# GUARD - average write wait",
			time.Duration(m[GuardWriteWaitNanos]/m[GuardWriteAcquired]))
	}
}
