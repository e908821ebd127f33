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

package logstore

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"go.uber.org/atomic"
	"trpc.group/trpc-go/logstore/internal/netutil"
	"trpc.group/trpc-go/logstore/metrics"
	"trpc.group/trpc-go/logstore/protocol"
)

// connState is the scheduling state of a server connection. Exactly one
// party owns a connection in each state: the poller while waiting, the
// dispatch queue while queued, one worker while in service.
type connState int32

const (
	stateWaiting connState = iota
	stateQueued
	stateInService
	stateClosed
)

// String implements fmt.Stringer.
func (s connState) String() string {
	switch s {
	case stateWaiting:
		return "waiting"
	case stateQueued:
		return "queued"
	case stateInService:
		return "in-service"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("connState(%d)", int32(s))
	}
}

type conn struct {
	id     uint64
	fd     int
	raw    net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	state  atomic.Int32
	closed atomic.Bool
}

func newConn(id uint64, raw net.Conn, keepAlive time.Duration) (*conn, error) {
	fd, err := netutil.GetFD(raw)
	if err != nil {
		return nil, fmt.Errorf("connection %d: %w", id, err)
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		if keepAlive > 0 {
			_ = tcp.SetKeepAlive(true)
			_ = tcp.SetKeepAlivePeriod(keepAlive)
		} else {
			_ = tcp.SetKeepAlive(false)
		}
	}
	c := &conn{
		id:  id,
		fd:  fd,
		raw: raw,
		r:   bufio.NewReader(raw),
		w:   bufio.NewWriter(raw),
	}
	c.state.Store(int32(stateWaiting))
	return c, nil
}

func (c *conn) getState() connState {
	return connState(c.state.Load())
}

func (c *conn) setState(s connState) {
	c.state.Store(int32(s))
}

// transit moves the connection from one state to another and reports
// whether the caller won the transition.
func (c *conn) transit(from, to connState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

func (c *conn) reply(code protocol.Code) error {
	return protocol.WriteCode(c.w, code)
}

func (c *conn) replyTuples(ts ...*protocol.Tuple) error {
	if err := protocol.WriteCode(c.w, protocol.CodeSendingTuples); err != nil {
		return err
	}
	for _, t := range ts {
		if err := protocol.WriteTuple(c.w, t); err != nil {
			return err
		}
	}
	metrics.Add(metrics.TuplesSent, uint64(len(ts)))
	return protocol.WriteEndOfSequence(c.w)
}

// close closes the socket once and reports whether this call did it.
func (c *conn) close() (bool, error) {
	if !c.closed.CompareAndSwap(false, true) {
		return false, nil
	}
	c.setState(stateClosed)
	metrics.Add(metrics.ConnsClosed, 1)
	return true, c.raw.Close()
}
