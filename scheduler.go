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
	"errors"
	"fmt"
	"net"
	"time"

	"trpc.group/trpc-go/logstore/internal/poller"
	"trpc.group/trpc-go/logstore/log"
	"trpc.group/trpc-go/logstore/metrics"
)

const (
	// defaultEventCount is the most readiness reports taken per wait.
	defaultEventCount = 128
	// acceptTimeout bounds a single accept so the scheduler never stalls
	// on a connection that vanished between readiness and accept.
	acceptTimeout = 10 * time.Millisecond
	// retryInterval is how long the scheduler waits before pushing queued
	// connections again while the dispatch queue is full.
	retryInterval = 5 * time.Millisecond
)

type deadliner interface {
	SetDeadline(t time.Time) error
}

// schedule is the scheduler loop. It accepts new connections, turns
// readable connections into work and takes back connections released by
// workers. It is the only goroutine that adds to or removes from conns.
func (s *Server) schedule() error {
	defer close(s.work)
	defer s.closeListener()

	fds := make([]int, defaultEventCount)
	var pending []*conn
	for s.alive.Load() {
		msec := -1
		if len(pending) > 0 {
			msec = waitMsec(retryInterval)
		}
		n, err := s.poller.Wait(fds, msec)
		if err != nil {
			s.alive.Store(false)
			return fmt.Errorf("scheduler wait: %w", err)
		}
		if !s.alive.Load() {
			return nil
		}
		pending = s.takeBack(pending)
		for _, fd := range fds[:n] {
			if fd == s.lnfd {
				s.accept()
				continue
			}
			c, ok := s.conns[fd]
			if !ok {
				continue
			}
			if c.transit(stateWaiting, stateQueued) {
				pending = append(pending, c)
			}
		}
		pending = s.enqueue(pending)
	}
	return nil
}

// waitMsec converts d to a poller timeout, rounding up so a short
// interval never turns into a busy poll.
func waitMsec(d time.Duration) int {
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

// accept takes one connection off the listener and starts watching it.
func (s *Server) accept() {
	if d, ok := s.ln.(deadliner); ok {
		_ = d.SetDeadline(time.Now().Add(acceptTimeout))
	}
	raw, err := s.ln.Accept()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return
		}
		log.Warnf("logstore: accept: %v", err)
		return
	}
	c, err := newConn(s.nextID.Inc(), raw, s.opts.tcpKeepAlive)
	if err != nil {
		log.Warnf("logstore: %v", err)
		raw.Close()
		return
	}
	if s.opts.onConnOpened != nil {
		if err := s.opts.onConnOpened(raw); err != nil {
			log.Debugf("logstore: connection %d from %s rejected: %v", c.id, raw.RemoteAddr(), err)
			_, _ = c.close()
			return
		}
	}
	if err := s.poller.Control(c.fd, poller.Readable); err != nil {
		log.Warnf("logstore: watch connection %d: %v", c.id, err)
		s.closeConn(c)
		return
	}
	s.conns[c.fd] = c
	metrics.Add(metrics.ConnsAccepted, 1)
	log.Debugf("logstore: connection %d from %s accepted", c.id, raw.RemoteAddr())
}

// takeBack drains the connections workers have finished with. A connection
// whose next request is already buffered goes straight back to pending,
// otherwise it is rearmed in the poller.
func (s *Server) takeBack(pending []*conn) []*conn {
	for {
		select {
		case c := <-s.returned:
			switch c.getState() {
			case stateWaiting:
				if c.r.Buffered() > 0 && c.transit(stateWaiting, stateQueued) {
					metrics.Add(metrics.ConnsRequeued, 1)
					pending = append(pending, c)
					continue
				}
				if err := s.poller.Control(c.fd, poller.Rearm); err != nil {
					log.Warnf("logstore: rearm connection %d: %v", c.id, err)
					s.retire(c)
				}
			default:
				s.retire(c)
			}
		default:
			return pending
		}
	}
}

// enqueue pushes as many pending connections as the dispatch queue takes
// and returns the rest.
func (s *Server) enqueue(pending []*conn) []*conn {
	for i, c := range pending {
		select {
		case s.work <- c:
		default:
			n := copy(pending, pending[i:])
			return pending[:n]
		}
	}
	return pending[:0]
}

// retire forgets a connection and closes it. The fd is detached before the
// socket is closed so it cannot be reused while still registered.
func (s *Server) retire(c *conn) {
	if err := s.poller.Control(c.fd, poller.Detach); err != nil {
		log.Debugf("logstore: detach connection %d: %v", c.id, err)
	}
	delete(s.conns, c.fd)
	s.closeConn(c)
}

func (s *Server) closeListener() {
	if err := s.poller.Control(s.lnfd, poller.Detach); err != nil {
		log.Debugf("logstore: detach listener: %v", err)
	}
	if err := s.ln.Close(); err != nil {
		log.Debugf("logstore: close listener: %v", err)
	}
}
