//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package logstore

import (
	"net"
	"runtime"
	"strconv"
	"time"

	"trpc.group/trpc-go/logstore/protocol"
	"trpc.group/trpc-go/logstore/table"
)

const (
	defaultQueueSize    = 1024
	defaultTCPKeepAlive = 15 * time.Second
	defaultDialTimeout  = 3 * time.Second
)

// OnConnOpened fires when a connection is accepted, before it is scheduled.
// Returning an error rejects the connection. It runs on the scheduler and
// must not block.
type OnConnOpened func(conn net.Conn) error

// OnConnClosed fires after a connection is torn down. Do not perform
// read-write operations in it. It normally runs on the scheduler; while the
// server stops it may run on a worker or in Stop. It must not block.
type OnConnClosed func(conn net.Conn)

// Option logstore server option.
type Option struct {
	f func(*options)
}

type options struct {
	network        string
	address        string
	threads        int
	queueSize      int
	reusePort      bool
	requestTimeout time.Duration
	tcpKeepAlive   time.Duration
	onConnOpened   OnConnOpened
	onConnClosed   OnConnClosed
	observer       table.Observer
}

func (o *options) setDefault() {
	o.network = "tcp"
	o.address = ":" + strconv.Itoa(protocol.DefaultPort)
	o.threads = runtime.NumCPU()
	o.queueSize = defaultQueueSize
	o.tcpKeepAlive = defaultTCPKeepAlive
}

// WithPort sets the port to listen on, on all interfaces.
// Port 0 picks a free port, see Server.Addr.
func WithPort(port int) Option {
	return Option{func(op *options) {
		op.address = ":" + strconv.Itoa(port)
	}}
}

// WithAddress sets the full listen address, e.g. "127.0.0.1:32432".
func WithAddress(address string) Option {
	return Option{func(op *options) {
		op.address = address
	}}
}

// WithNetwork sets the listen network: "tcp", "tcp4" or "tcp6".
func WithNetwork(network string) Option {
	return Option{func(op *options) {
		op.network = network
	}}
}

// WithThreads sets the number of workers. Values below 1 are raised to 1.
func WithThreads(n int) Option {
	return Option{func(op *options) {
		if n < 1 {
			n = 1
		}
		op.threads = n
	}}
}

// WithQueueSize sets the capacity of the queues between the scheduler and
// the workers.
func WithQueueSize(n int) Option {
	return Option{func(op *options) {
		if n < 1 {
			n = 1
		}
		op.queueSize = n
	}}
}

// WithReusePort binds the listener with SO_REUSEPORT.
func WithReusePort(reuse bool) Option {
	return Option{func(op *options) {
		op.reusePort = reuse
	}}
}

// WithRequestTimeout bounds the socket I/O of a single request. A client
// that stalls longer loses its connection. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return Option{func(op *options) {
		op.requestTimeout = d
	}}
}

// WithTCPKeepAlive sets the keep alive period of accepted connections.
// If keepAlive <= 0, keep alive will be turned off.
func WithTCPKeepAlive(keepAlive time.Duration) Option {
	return Option{func(op *options) {
		op.tcpKeepAlive = keepAlive
	}}
}

// WithOnConnOpened registers the OnConnOpened hook.
func WithOnConnOpened(onConnOpened OnConnOpened) Option {
	return Option{func(op *options) {
		op.onConnOpened = onConnOpened
	}}
}

// WithOnConnClosed registers the OnConnClosed hook.
func WithOnConnClosed(onConnClosed OnConnClosed) Option {
	return Option{func(op *options) {
		op.onConnClosed = onConnClosed
	}}
}

// WithGuardObserver installs an observer on the table guard.
func WithGuardObserver(obs table.Observer) Option {
	return Option{func(op *options) {
		op.observer = obs
	}}
}

// ClientOption logstore client option.
type ClientOption struct {
	f func(*clientOptions)
}

type clientOptions struct {
	noDelay   bool
	ioTimeout time.Duration
}

func (o *clientOptions) setDefault() {
	o.noDelay = true
}

// WithNoDelay sets TCP_NODELAY on client connections. Default is true.
func WithNoDelay(noDelay bool) ClientOption {
	return ClientOption{func(op *clientOptions) {
		op.noDelay = noDelay
	}}
}

// WithIOTimeout bounds each read and write issued by the client. Zero, the
// default, waits forever.
func WithIOTimeout(d time.Duration) ClientOption {
	return ClientOption{func(op *clientOptions) {
		op.ioTimeout = d
	}}
}
