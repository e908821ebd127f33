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
	"fmt"

	"github.com/panjf2000/ants/v2"
	"trpc.group/trpc-go/logstore/log"
	"trpc.group/trpc-go/logstore/metrics"
)

func newWorkerPool(size int, handler func(any)) (*ants.PoolWithFunc, error) {
	return ants.NewPoolWithFunc(size, handler, ants.WithPanicHandler(func(p any) {
		log.Errorf("logstore: worker panic: %v", p)
	}))
}

// dispatch hands queued connections to workers. Invoke blocks while every
// worker is busy, which in turn backs up the dispatch queue.
func (s *Server) dispatch() error {
	for c := range s.work {
		if !s.alive.Load() {
			// Left in conns, Stop closes it.
			continue
		}
		s.inflight.Add(1)
		metrics.Add(metrics.TaskAssigned, 1)
		if err := s.pool.Invoke(c); err != nil {
			s.inflight.Done()
			log.Errorf("logstore: assign connection %d: %v", c.id, err)
			c.setState(stateClosed)
			s.giveBack(c)
		}
	}
	return nil
}

// serve is the worker body: answer exactly one request, then give the
// connection back.
func (s *Server) serve(v any) {
	c := v.(*conn)
	defer s.inflight.Done()
	keep := false
	defer func() {
		if keep && s.alive.Load() {
			c.setState(stateWaiting)
		} else {
			c.setState(stateClosed)
		}
		s.giveBack(c)
	}()
	if !c.transit(stateQueued, stateInService) {
		panic(fmt.Sprintf("connection %d dispatched while %s", c.id, c.getState()))
	}
	if !s.alive.Load() {
		return
	}
	keep = s.handle(c)
}

// giveBack returns c to the scheduler. Once Stop has begun the connection
// may be closed in place instead.
func (s *Server) giveBack(c *conn) {
	select {
	case s.returned <- c:
		if err := s.poller.Trigger(); err != nil {
			log.Debugf("logstore: wake scheduler: %v", err)
		}
	case <-s.done:
		s.closeConn(c)
	}
}
