// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package logstore_test

import (
	"bufio"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/logstore"
	"trpc.group/trpc-go/logstore/metrics"
	"trpc.group/trpc-go/logstore/protocol"
)

// fakeServer answers the first request of the first connection with
// respond. It then hangs up, or waits for the peer to.
func fakeServer(t *testing.T, hangUp bool, respond func(w *bufio.Writer)) int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r, w := bufio.NewReader(conn), bufio.NewWriter(conn)
		req, err := protocol.ReadRequest(r)
		if err != nil {
			return
		}
		req.Release()
		respond(w)
		if err := w.Flush(); err != nil || hangUp {
			return
		}
		_, _ = io.Copy(io.Discard, r)
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestOpTooManyTuples(t *testing.T) {
	port := fakeServer(t, false, func(w *bufio.Writer) {
		_ = protocol.WriteCode(w, protocol.CodeSendingTuples)
		for _, k := range []string{"a", "b"} {
			tp := protocol.NewTuple([]byte(k), nil)
			_ = protocol.WriteTuple(w, tp)
			tp.Release()
		}
		_ = protocol.WriteEndOfSequence(w)
	})
	c := dial(t, port)
	before := metrics.Get(metrics.ClientTooManyTuples)
	got, err := c.Find([]byte("a"))
	assert.Nil(t, got)
	assert.Equal(t, logstore.ErrTooManyTuples, err)
	assert.False(t, c.Connected())
	assert.Equal(t, before+1, metrics.Get(metrics.ClientTooManyTuples))
}

func TestOpNoTuples(t *testing.T) {
	port := fakeServer(t, false, func(w *bufio.Writer) {
		_ = protocol.WriteCode(w, protocol.CodeSendingTuples)
		_ = protocol.WriteEndOfSequence(w)
	})
	c := dial(t, port)
	k := protocol.NewTuple([]byte("a"), nil)
	defer k.Release()
	got, err := c.Op(protocol.OpFind, k, nil, protocol.NoLimit)
	assert.Nil(t, err)
	assert.Nil(t, got)
	assert.True(t, c.Connected())
}

func TestOpSuccessEchoesInput(t *testing.T) {
	port := fakeServer(t, false, func(w *bufio.Writer) {
		_ = protocol.WriteCode(w, protocol.CodeSuccess)
	})
	c := dial(t, port)
	in := protocol.NewTuple([]byte("k"), []byte("v"))
	defer in.Release()
	got, err := c.Op(protocol.OpInsert, in, nil, protocol.NoLimit)
	require.Nil(t, err)
	assert.True(t, got == in)

	port = fakeServer(t, false, func(w *bufio.Writer) {
		_ = protocol.WriteCode(w, protocol.CodeSuccess)
	})
	c = dial(t, port)
	got, err = c.Op(protocol.OpInsert, nil, nil, protocol.NoLimit)
	require.Nil(t, err)
	assert.True(t, got.IsEmpty())
	got.Release()
}

func TestOpUnknownResponseCode(t *testing.T) {
	port := fakeServer(t, false, func(w *bufio.Writer) {
		_ = w.WriteByte(99)
	})
	c := dial(t, port)
	assert.Equal(t, protocol.CodeInvalid, c.OpReturnsMany(protocol.OpFind, nil, nil, protocol.NoLimit))
	assert.False(t, c.Connected())
	assert.True(t, errors.Is(c.Err(), protocol.ErrUnknownCode))
}

func TestOpServerHangsUp(t *testing.T) {
	port := fakeServer(t, true, func(w *bufio.Writer) {
		_ = protocol.WriteCode(w, protocol.CodeSendingTuples)
		// Half a tuple header, then the connection is closed.
		_, _ = w.Write([]byte{0, 0})
	})
	c := dial(t, port)
	got, err := c.Find([]byte("a"))
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, logstore.ErrConnClosed))
	assert.False(t, c.Connected())
}

func TestClientRejectsLocally(t *testing.T) {
	c, err := logstore.Dial("127.0.0.1", 1, time.Second)
	require.Nil(t, err)
	assert.Equal(t, protocol.CodeInvalid, c.OpReturnsMany(protocol.OpDone, nil, nil, protocol.NoLimit))
	assert.Equal(t, protocol.CodeInvalid, c.OpReturnsMany(protocol.Opcode(protocol.CodeSuccess), nil, nil, protocol.NoLimit))
	assert.Equal(t, protocol.CodeInvalid, c.OpReturnsMany(protocol.OpScan, nil, nil, 10))
	assert.True(t, errors.Is(c.Err(), protocol.ErrCountMismatch))
	assert.Equal(t, protocol.CodeInvalid, c.OpReturnsMany(protocol.OpScanLimit, nil, nil, protocol.NoLimit))
	assert.False(t, c.Connected())
	assert.Nil(t, c.Close())
}

func TestClientConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.Nil(t, ln.Close())

	c, err := logstore.Dial("127.0.0.1", port, time.Second)
	require.Nil(t, err)
	before := metrics.Get(metrics.ClientConnFailures)
	assert.Equal(t, protocol.CodeConnClosed, c.OpReturnsMany(protocol.OpFind, nil, nil, protocol.NoLimit))
	assert.NotNil(t, c.Err())
	assert.Equal(t, before+1, metrics.Get(metrics.ClientConnFailures))

	_, err = c.NextTuple()
	assert.Equal(t, logstore.ErrConnClosed, err)
	assert.Equal(t, protocol.CodeConnClosed, c.SendTuple(nil))
}

func TestDialResolveFailure(t *testing.T) {
	_, err := logstore.Dial("host.invalid.", 0, time.Second)
	assert.NotNil(t, err)
}
