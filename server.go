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
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"trpc.group/trpc-go/logstore/internal/netutil"
	"trpc.group/trpc-go/logstore/internal/poller"
	"trpc.group/trpc-go/logstore/log"
	"trpc.group/trpc-go/logstore/table"
)

// Server accepts connections and serves requests against one table.
//
// A single scheduler goroutine owns the listener and every idle connection.
// It hands a connection with a pending request to a fixed pool of workers;
// a worker answers exactly one request and returns the connection to the
// scheduler, so a few busy clients cannot starve the others.
type Server struct {
	opts options

	ln     net.Listener
	lnfd   int
	poller poller.Poller
	pool   *ants.PoolWithFunc
	guard  *table.Guard

	// conns is owned by the scheduler goroutine until Stop.
	conns    map[int]*conn
	work     chan *conn
	returned chan *conn

	// done is closed once Stop begins. Workers that cannot hand a
	// connection back after that close it themselves.
	done chan struct{}

	started  atomic.Bool
	stopped  atomic.Bool
	alive    atomic.Bool
	nextID   atomic.Uint64
	group    errgroup.Group
	inflight sync.WaitGroup
}

// NewServer creates a server. It does not listen until Start.
func NewServer(opt ...Option) *Server {
	opts := options{}
	opts.setDefault()
	for _, o := range opt {
		o.f(&opts)
	}
	return &Server{
		opts:     opts,
		conns:    make(map[int]*conn),
		work:     make(chan *conn, opts.queueSize),
		returned: make(chan *conn, opts.queueSize),
		done:     make(chan struct{}),
	}
}

// Start listens and begins serving t. It returns once the listener is
// bound; serving continues in the background until Stop.
func (s *Server) Start(t table.Table) (err error) {
	if t == nil {
		return errors.New("table is nil")
	}
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("logstore: server already started")
	}
	defer func() {
		if err != nil {
			s.stopped.Store(true)
			s.teardown()
		}
	}()
	if s.ln, err = netutil.Listen(s.opts.network, s.opts.address, s.opts.reusePort); err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.address, err)
	}
	if s.lnfd, err = netutil.GetFD(s.ln); err != nil {
		return fmt.Errorf("listener: %w", err)
	}
	if s.poller, err = poller.New(); err != nil {
		return fmt.Errorf("create poller: %w", err)
	}
	if err = s.poller.Control(s.lnfd, poller.Listen); err != nil {
		return fmt.Errorf("register listener: %w", err)
	}
	if s.pool, err = newWorkerPool(s.opts.threads, s.serve); err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	s.guard = table.NewGuard(t, s.opts.observer)
	s.alive.Store(true)
	s.group.Go(s.schedule)
	s.group.Go(s.dispatch)
	log.Infof("logstore: listening on %s with %d workers", s.ln.Addr(), s.opts.threads)
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop stops accepting connections and requests, waits for the requests in
// flight to finish and closes every connection. It returns ErrServerClosed
// if the server is not running.
func (s *Server) Stop() error {
	if !s.started.Load() || !s.stopped.CompareAndSwap(false, true) {
		return ErrServerClosed
	}
	s.alive.Store(false)
	if err := s.poller.Trigger(); err != nil {
		log.Warnf("logstore: wake scheduler: %v", err)
	}
	// Close done before joining: the scheduler no longer drains returned,
	// and the dispatcher may be blocked on a worker stuck in giveBack.
	close(s.done)
	err := s.group.Wait()
	s.inflight.Wait()
	for fd, c := range s.conns {
		delete(s.conns, fd)
		s.closeConn(c)
	}
	s.guard.Close()
	err = multierr.Append(err, s.teardown())
	log.Infof("logstore: server on %s stopped", s.ln.Addr())
	return err
}

// Serve starts the server, blocks until ctx is done and then stops it.
func (s *Server) Serve(ctx context.Context, t table.Table) error {
	if err := s.Start(t); err != nil {
		return err
	}
	<-ctx.Done()
	if err := s.Stop(); err != nil {
		return err
	}
	return ctx.Err()
}

// teardown releases what Start acquired. The listener is normally closed
// by the scheduler already.
func (s *Server) teardown() error {
	var err error
	if s.pool != nil {
		s.pool.Release()
	}
	if s.poller != nil {
		err = multierr.Append(err, s.poller.Close())
	}
	if s.ln != nil {
		if cerr := s.ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	return err
}

func (s *Server) closeConn(c *conn) {
	first, err := c.close()
	if err != nil {
		log.Debugf("logstore: close connection %d: %v", c.id, err)
	}
	if first && s.opts.onConnClosed != nil {
		s.opts.onConnClosed(c.raw)
	}
}
