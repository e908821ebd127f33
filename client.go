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
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"trpc.group/trpc-go/logstore/log"
	"trpc.group/trpc-go/logstore/metrics"
	"trpc.group/trpc-go/logstore/protocol"
)

// Client is a connection to a logstore server. The connection is opened on
// first use and reopened by the next operation after it is lost. A Client
// must not be used from several goroutines at once.
type Client struct {
	addr    string
	timeout time.Duration
	opts    clientOptions

	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	err  error
}

// Dial resolves host and returns a client for it. No connection is made
// until the first operation. Port 0 selects protocol.DefaultPort and a zero
// timeout selects a default connect timeout.
func Dial(host string, port int, timeout time.Duration, opt ...ClientOption) (*Client, error) {
	if port == 0 {
		port = protocol.DefaultPort
	}
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	c := &Client{addr: addr.String(), timeout: timeout}
	c.opts.setDefault()
	for _, o := range opt {
		o.f(&c.opts)
	}
	return c, nil
}

// Connected reports whether the client holds an open connection.
func (c *Client) Connected() bool {
	return c.conn != nil
}

// Err returns the error behind the last failed operation. It is reset when
// a new request starts, so it is nil after a request that went through.
func (c *Client) Err() error {
	return c.err
}

func (c *Client) connect() error {
	if c.conn != nil {
		return nil
	}
	raw, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		metrics.Add(metrics.ClientConnFailures, 1)
		c.err = fmt.Errorf("connect %s: %w", c.addr, err)
		return c.err
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(c.opts.noDelay)
	}
	metrics.Add(metrics.ClientConnects, 1)
	c.conn = raw
	c.r = bufio.NewReader(raw)
	c.w = bufio.NewWriter(raw)
	return nil
}

// fail drops the connection after an unrecoverable error.
func (c *Client) fail(err error) {
	c.err = err
	if c.conn == nil {
		return
	}
	log.Debugf("logstore: client to %s: %v, closing connection", c.addr, err)
	_ = c.conn.Close()
	c.conn, c.r, c.w = nil, nil, nil
}

func (c *Client) arm() {
	if c.opts.ioTimeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.opts.ioTimeout))
	}
}

// OpReturnsMany sends a request and returns the response code. After
// CodeSendingTuples the caller reads the results with NextTuple. After
// CodeSuccess for OpBulkInsert the caller streams tuples with SendTuple.
//
// Pass protocol.NoLimit as count unless op is protocol.OpScanLimit. Requests
// that cannot be valid are rejected with CodeInvalid without being sent.
// Any I/O failure closes the connection and returns CodeConnClosed.
func (c *Client) OpReturnsMany(op protocol.Opcode, a, b *protocol.Tuple, count uint64) protocol.Code {
	c.err = nil
	if op == protocol.OpDone || op.IsResponse() {
		c.err = fmt.Errorf("%w: %s is not a request opcode", ErrInvalid, op)
		return protocol.CodeInvalid
	}
	if err := protocol.CheckCount(op, count); err != nil {
		c.err = err
		return protocol.CodeInvalid
	}
	if err := c.connect(); err != nil {
		return protocol.CodeConnClosed
	}
	c.arm()
	err := protocol.WriteRequest(c.w, op, a, b, count)
	if err == nil {
		err = c.w.Flush()
	}
	if err != nil {
		c.fail(fmt.Errorf("send %s: %w", op, err))
		return protocol.CodeConnClosed
	}
	code, err := protocol.ReadCode(c.r)
	if err != nil {
		c.fail(fmt.Errorf("read %s response: %w", op, err))
		return code
	}
	return code
}

// NextTuple reads the next result after CodeSendingTuples. It returns
// (nil, nil) at the end of the sequence. Any error closes the connection.
func (c *Client) NextTuple() (*protocol.Tuple, error) {
	if c.conn == nil {
		return nil, ErrConnClosed
	}
	c.arm()
	t, err := protocol.ReadTuple(c.r)
	if err != nil {
		c.fail(fmt.Errorf("read tuple: %w", err))
		return nil, fmt.Errorf("%w: %v", ErrConnClosed, err)
	}
	return t, nil
}

// SendTuple streams one tuple of a bulk insert. Passing nil ends the stream
// and returns the server's final code.
func (c *Client) SendTuple(t *protocol.Tuple) protocol.Code {
	if c.conn == nil {
		return protocol.CodeConnClosed
	}
	c.arm()
	if t != nil {
		if err := protocol.WriteTuple(c.w, t); err != nil {
			c.fail(fmt.Errorf("send tuple: %w", err))
			return protocol.CodeConnClosed
		}
		return protocol.CodeSuccess
	}
	err := protocol.WriteEndOfSequence(c.w)
	if err == nil {
		err = c.w.Flush()
	}
	if err != nil {
		c.fail(fmt.Errorf("end bulk insert: %w", err))
		return protocol.CodeConnClosed
	}
	code, err := protocol.ReadCode(c.r)
	if err != nil {
		c.fail(fmt.Errorf("read bulk insert result: %w", err))
	}
	return code
}

// Op sends a request that yields at most one tuple.
//
// For SENDING_TUPLES it returns the single tuple, or (nil, nil) if none was
// sent. More than one tuple closes the connection and returns
// ErrTooManyTuples. For SUCCESS it returns a (the request's own tuple), or a
// fresh empty tuple when a is nil; a tuple returned this way is not a copy.
// FAIL, INVALID and connection loss map to ErrFail, ErrInvalid and
// ErrConnClosed.
func (c *Client) Op(op protocol.Opcode, a, b *protocol.Tuple, count uint64) (*protocol.Tuple, error) {
	code := c.OpReturnsMany(op, a, b, count)
	switch code {
	case protocol.CodeSendingTuples:
		first, err := c.NextTuple()
		if err != nil || first == nil {
			return nil, err
		}
		second, err := c.NextTuple()
		if err != nil {
			first.Release()
			return nil, err
		}
		if second != nil {
			log.Warnf("logstore: %s returned several tuples to a single-result call, closing connection", op)
			metrics.Add(metrics.ClientTooManyTuples, 1)
			second.Release()
			first.Release()
			c.fail(ErrTooManyTuples)
			return nil, ErrTooManyTuples
		}
		return first, nil
	case protocol.CodeSuccess:
		if a != nil {
			return a, nil
		}
		return protocol.EmptyTuple(), nil
	default:
		return nil, codeError(code)
	}
}

// Find returns the tuple stored under key, or nil when the key is absent.
func (c *Client) Find(key []byte) (*protocol.Tuple, error) {
	k := protocol.NewTuple(key, nil)
	t, err := c.Op(protocol.OpFind, k, nil, protocol.NoLimit)
	if t != k {
		k.Release()
	}
	if errors.Is(err, ErrFail) {
		return nil, nil
	}
	return t, err
}

// Insert stores value under key.
func (c *Client) Insert(key, value []byte) error {
	t := protocol.NewTuple(key, value)
	defer t.Release()
	_, err := c.Op(protocol.OpInsert, t, nil, protocol.NoLimit)
	return err
}

// Scan returns an iterator over keys in [lo, hi). A nil bound is open.
// limit caps the number of results; protocol.NoLimit returns them all.
// The iterator must be drained or closed before the next operation.
func (c *Client) Scan(lo, hi []byte, limit uint64) (*Iterator, error) {
	op := protocol.OpScan
	if limit != protocol.NoLimit {
		op = protocol.OpScanLimit
	}
	var a, b *protocol.Tuple
	if lo != nil {
		a = protocol.NewTuple(lo, nil)
	}
	if hi != nil {
		b = protocol.NewTuple(hi, nil)
	}
	code := c.OpReturnsMany(op, a, b, limit)
	a.Release()
	b.Release()
	if code != protocol.CodeSendingTuples {
		if code == protocol.CodeSuccess {
			return nil, fmt.Errorf("%w: unexpected %s for %s", ErrInvalid, code, op)
		}
		return nil, codeError(code)
	}
	return &Iterator{c: c}, nil
}

// BulkInsert stores every tuple in one request. Nil entries are skipped.
// The caller keeps ownership of ts.
func (c *Client) BulkInsert(ts []*protocol.Tuple) error {
	if code := c.OpReturnsMany(protocol.OpBulkInsert, nil, nil, protocol.NoLimit); code != protocol.CodeSuccess {
		return codeError(code)
	}
	for _, t := range ts {
		if t == nil {
			continue
		}
		if code := c.SendTuple(t); code != protocol.CodeSuccess {
			return codeError(code)
		}
	}
	if code := c.SendTuple(nil); code != protocol.CodeSuccess {
		return codeError(code)
	}
	return nil
}

// Close sends DONE and closes the connection. It is a no-op when no
// connection is open.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	c.arm()
	err := protocol.WriteOpcode(c.w, protocol.OpDone)
	if err == nil {
		err = c.w.Flush()
	}
	err = multierr.Append(err, c.conn.Close())
	c.conn, c.r, c.w = nil, nil, nil
	return err
}

// Iterator walks the results of a scan.
type Iterator struct {
	c    *Client
	done bool
	err  error
}

// Next returns the next tuple, owned by the caller, or nil at the end.
func (it *Iterator) Next() (*protocol.Tuple, error) {
	if it.done {
		return nil, it.err
	}
	t, err := it.c.NextTuple()
	if err != nil || t == nil {
		it.done, it.err = true, err
	}
	return t, err
}

// Close discards the remaining results so the connection can be reused.
func (it *Iterator) Close() error {
	for !it.done {
		t, _ := it.Next()
		t.Release()
	}
	return it.err
}
