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
	"io"
	"time"

	"trpc.group/trpc-go/logstore/log"
	"trpc.group/trpc-go/logstore/metrics"
	"trpc.group/trpc-go/logstore/protocol"
)

// handle reads and answers one request. It reports whether the connection
// should be kept for the next request. The table guard is never held while
// the connection is read or written.
func (s *Server) handle(c *conn) bool {
	if d := s.opts.requestTimeout; d > 0 {
		_ = c.raw.SetDeadline(time.Now().Add(d))
		defer c.raw.SetDeadline(time.Time{})
	}
	req, err := protocol.ReadRequest(c.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			log.Debugf("logstore: connection %d: peer hung up", c.id)
		} else {
			metrics.Add(metrics.RequestsIOFailed, 1)
			log.Debugf("logstore: connection %d: read request: %v", c.id, err)
		}
		return false
	}
	defer req.Release()

	switch req.Op {
	case protocol.OpDone:
		metrics.Add(metrics.RequestsDone, 1)
		log.Debugf("logstore: connection %d: done", c.id)
		return false
	case protocol.OpFind:
		err = s.find(c, req)
	case protocol.OpInsert:
		err = s.insert(c, req)
	case protocol.OpScan, protocol.OpScanLimit:
		err = s.scan(c, req)
	case protocol.OpBulkInsert:
		err = s.bulkInsert(c)
	default:
		metrics.Add(metrics.RequestsInvalid, 1)
		log.Warnf("logstore: connection %d: unrecognized opcode %s", c.id, req.Op)
		err = c.reply(protocol.CodeInvalid)
	}
	if err == nil {
		err = c.w.Flush()
	}
	if err != nil {
		metrics.Add(metrics.RequestsIOFailed, 1)
		log.Debugf("logstore: connection %d: %s aborted: %v", c.id, req.Op, err)
		return false
	}
	return true
}

func (s *Server) find(c *conn, req *protocol.Request) error {
	metrics.Add(metrics.RequestsFind, 1)
	if req.A == nil {
		return c.reply(protocol.CodeInvalid)
	}
	tok, err := s.guard.Read()
	if err != nil {
		return err
	}
	found := tok.Find(req.A.Key())
	tok.Release()
	if found == nil {
		return c.reply(protocol.CodeFail)
	}
	defer found.Release()
	return c.replyTuples(found)
}

func (s *Server) insert(c *conn, req *protocol.Request) error {
	metrics.Add(metrics.RequestsInsert, 1)
	if req.A == nil {
		return c.reply(protocol.CodeInvalid)
	}
	tok, err := s.guard.Write()
	if err != nil {
		return err
	}
	t := req.TakeA()
	ok := tok.Insert(t)
	tok.Release()
	if !ok {
		t.Release()
		return c.reply(protocol.CodeFail)
	}
	return c.reply(protocol.CodeSuccess)
}

func (s *Server) scan(c *conn, req *protocol.Request) error {
	metrics.Add(metrics.RequestsScan, 1)
	var lo, hi []byte
	if req.A != nil {
		lo = req.A.Key()
	}
	if req.B != nil {
		hi = req.B.Key()
	}
	tok, err := s.guard.Read()
	if err != nil {
		return err
	}
	ts, ok := tok.Scan(lo, hi, req.Count)
	tok.Release()
	if !ok {
		return c.reply(protocol.CodeInvalid)
	}
	defer protocol.ReleaseAll(ts)
	return c.replyTuples(ts...)
}

// bulkInsert acknowledges the request, reads tuples up to the empty-marker
// and inserts them under a single write acquisition.
func (s *Server) bulkInsert(c *conn) error {
	metrics.Add(metrics.RequestsBulkInsert, 1)
	if err := c.reply(protocol.CodeSuccess); err != nil {
		return err
	}
	if err := c.w.Flush(); err != nil {
		return err
	}
	var batch []*protocol.Tuple
	for {
		t, err := protocol.ReadTuple(c.r)
		if err != nil {
			protocol.ReleaseAll(batch)
			return err
		}
		if t == nil {
			break
		}
		batch = append(batch, t)
	}
	tok, err := s.guard.Write()
	if err != nil {
		protocol.ReleaseAll(batch)
		return err
	}
	code := protocol.CodeSuccess
	for _, t := range batch {
		if !tok.Insert(t) {
			t.Release()
			code = protocol.CodeFail
		}
	}
	tok.Release()
	return c.reply(code)
}
