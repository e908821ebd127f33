// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package logstore_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"trpc.group/trpc-go/logstore"
	"trpc.group/trpc-go/logstore/memtable"
	"trpc.group/trpc-go/logstore/metrics"
	"trpc.group/trpc-go/logstore/protocol"
	"trpc.group/trpc-go/logstore/table"
)

func startServer(t *testing.T, tbl table.Table, opt ...logstore.Option) (*logstore.Server, int) {
	opts := append([]logstore.Option{
		logstore.WithAddress("127.0.0.1:0"),
		logstore.WithThreads(4),
	}, opt...)
	s := logstore.NewServer(opts...)
	require.Nil(t, s.Start(tbl))
	t.Cleanup(func() { _ = s.Stop() })
	return s, s.Addr().(*net.TCPAddr).Port
}

func dial(t *testing.T, port int) *logstore.Client {
	c, err := logstore.Dial("127.0.0.1", port, time.Second)
	require.Nil(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEndToEnd(t *testing.T) {
	tbl := memtable.New()
	_, port := startServer(t, tbl)
	c := dial(t, port)
	assert.False(t, c.Connected())

	require.Nil(t, c.Insert([]byte("b"), []byte("2")))
	assert.True(t, c.Connected())
	require.Nil(t, c.Insert([]byte("a"), []byte("1")))
	require.Nil(t, c.Insert([]byte("c"), []byte("3")))

	got, err := c.Find([]byte("b"))
	require.Nil(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2", string(got.Value()))
	got.Release()

	got, err = c.Find([]byte("zz"))
	assert.Nil(t, err)
	assert.Nil(t, got)

	it, err := c.Scan(nil, nil, protocol.NoLimit)
	require.Nil(t, err)
	var keys []string
	for {
		tp, err := it.Next()
		require.Nil(t, err)
		if tp == nil {
			break
		}
		keys = append(keys, string(tp.Key()))
		tp.Release()
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	it, err = c.Scan([]byte("b"), nil, 1)
	require.Nil(t, err)
	tp, err := it.Next()
	require.Nil(t, err)
	assert.Equal(t, "b", string(tp.Key()))
	tp.Release()
	assert.Nil(t, it.Close())

	var batch []*protocol.Tuple
	for i := 0; i < 100; i++ {
		batch = append(batch, protocol.NewTuple([]byte(fmt.Sprintf("bulk%03d", i)), []byte("v")))
	}
	require.Nil(t, c.BulkInsert(batch))
	protocol.ReleaseAll(batch)
	got, err = c.Find([]byte("bulk042"))
	require.Nil(t, err)
	require.NotNil(t, got)
	got.Release()

	require.Nil(t, c.Close())
	assert.False(t, c.Connected())
	require.Nil(t, c.Close())

	// The next operation reconnects.
	got, err = c.Find([]byte("a"))
	require.Nil(t, err)
	assert.Equal(t, "1", string(got.Value()))
	got.Release()
}

func TestConnectionIsReused(t *testing.T) {
	var opened, closed atomic.Int32
	_, port := startServer(t, memtable.New(),
		logstore.WithOnConnOpened(func(net.Conn) error {
			opened.Inc()
			return nil
		}),
		logstore.WithOnConnClosed(func(net.Conn) {
			closed.Inc()
		}))
	c := dial(t, port)
	for i := 0; i < 50; i++ {
		require.Nil(t, c.Insert([]byte(fmt.Sprintf("k%d", i)), []byte("v")))
	}
	assert.Equal(t, int32(1), opened.Load())
	require.Nil(t, c.Close())
	assert.Eventually(t, func() bool { return closed.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestReconnectAfterTransportFailure(t *testing.T) {
	var opened atomic.Int32
	tbl := memtable.New()
	require.True(t, tbl.Insert(protocol.NewTuple([]byte("a"), []byte("1"))))
	_, port := startServer(t, tbl,
		logstore.WithRequestTimeout(50*time.Millisecond),
		logstore.WithOnConnOpened(func(net.Conn) error {
			opened.Inc()
			return nil
		}))
	c := dial(t, port)
	require.Equal(t, protocol.CodeSuccess, c.OpReturnsMany(protocol.OpBulkInsert, nil, nil, protocol.NoLimit))
	// Stall the tuple stream until the server gives up on the request.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, protocol.CodeConnClosed, c.SendTuple(nil))
	assert.False(t, c.Connected())
	assert.NotNil(t, c.Err())

	got, err := c.Find([]byte("a"))
	require.Nil(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1", string(got.Value()))
	got.Release()
	assert.True(t, c.Connected())
	assert.Nil(t, c.Err())
	assert.Equal(t, int32(2), opened.Load())
}

func TestOnConnOpenedRejects(t *testing.T) {
	_, port := startServer(t, memtable.New(),
		logstore.WithOnConnOpened(func(net.Conn) error {
			return errors.New("go away")
		}))
	c := dial(t, port)
	err := c.Insert([]byte("k"), []byte("v"))
	assert.True(t, errors.Is(err, logstore.ErrConnClosed))
	assert.False(t, c.Connected())
	assert.NotNil(t, c.Err())
}

func TestManyClientsFewWorkers(t *testing.T) {
	obs := &exclusionObserver{}
	_, port := startServer(t, memtable.New(),
		logstore.WithThreads(2),
		logstore.WithGuardObserver(obs))

	const clients, ops = 16, 40
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := logstore.Dial("127.0.0.1", port, time.Second)
			if !assert.Nil(t, err) {
				return
			}
			defer c.Close()
			for j := 0; j < ops; j++ {
				key := []byte(fmt.Sprintf("c%d-%d", i, j))
				if !assert.Nil(t, c.Insert(key, key)) {
					return
				}
				got, err := c.Find(key)
				if !assert.Nil(t, err) || !assert.NotNil(t, got) {
					return
				}
				assert.True(t, bytes.Equal(key, got.Value()))
				got.Release()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(0), obs.violations.Load())
	assert.Equal(t, int32(clients*ops), obs.writes.Load())
	assert.Equal(t, int32(clients*ops), obs.reads.Load())
}

func TestUnknownOpcodeKeepsConnection(t *testing.T) {
	var opened atomic.Int32
	_, port := startServer(t, memtable.New(),
		logstore.WithOnConnOpened(func(net.Conn) error {
			opened.Inc()
			return nil
		}))
	c := dial(t, port)
	before := metrics.Get(metrics.RequestsInvalid)
	assert.Equal(t, protocol.CodeInvalid, c.OpReturnsMany(protocol.Opcode(77), nil, nil, protocol.NoLimit))
	assert.True(t, c.Connected())
	assert.Equal(t, before+1, metrics.Get(metrics.RequestsInvalid))

	require.Nil(t, c.Insert([]byte("k"), []byte("v")))
	assert.Equal(t, int32(1), opened.Load())
}

func TestFindWithoutKeyIsInvalid(t *testing.T) {
	_, port := startServer(t, memtable.New())
	c := dial(t, port)
	_, err := c.Op(protocol.OpFind, nil, nil, protocol.NoLimit)
	assert.Equal(t, logstore.ErrInvalid, err)
	assert.True(t, c.Connected())
}

func TestInsertRefused(t *testing.T) {
	_, port := startServer(t, memtable.New())
	c := dial(t, port)
	assert.Equal(t, logstore.ErrFail, c.Insert(nil, []byte("v")))
	assert.True(t, c.Connected())
}

type mapTable struct {
	mu sync.Mutex
	m  map[string]*protocol.Tuple
}

func (t *mapTable) Find(key []byte) *protocol.Tuple {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.m[string(key)]; ok {
		return v.Clone()
	}
	return nil
}

func (t *mapTable) Insert(tp *protocol.Tuple) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.m[string(tp.Key())]; ok {
		old.Release()
	}
	t.m[string(tp.Key())] = tp
	return true
}

func TestScanUnsupported(t *testing.T) {
	_, port := startServer(t, &mapTable{m: make(map[string]*protocol.Tuple)})
	c := dial(t, port)
	_, err := c.Scan(nil, nil, protocol.NoLimit)
	assert.Equal(t, logstore.ErrInvalid, err)
	require.Nil(t, c.Insert([]byte("k"), []byte("v")))
}

type gatedTable struct {
	*memtable.Table
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTable) Insert(t *protocol.Tuple) bool {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Table.Insert(t)
}

func TestStopWaitsForInFlight(t *testing.T) {
	tbl := &gatedTable{
		Table:   memtable.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s, port := startServer(t, tbl)
	c := dial(t, port)
	idle := dial(t, port)
	got, err := idle.Find([]byte("nothing"))
	require.Nil(t, err)
	assert.Nil(t, got)

	inserted := make(chan error, 1)
	go func() { inserted <- c.Insert([]byte("k"), []byte("v")) }()
	<-tbl.entered

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()
	select {
	case <-stopped:
		t.Fatal("stop returned while a request was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(tbl.release)
	assert.Nil(t, <-stopped)
	assert.Nil(t, <-inserted)

	_, err = idle.Find([]byte("k"))
	assert.True(t, errors.Is(err, logstore.ErrConnClosed))
	assert.Equal(t, logstore.ErrServerClosed, s.Stop())

	late, err := logstore.Dial("127.0.0.1", port, 100*time.Millisecond)
	require.Nil(t, err)
	assert.True(t, errors.Is(late.Insert([]byte("x"), nil), logstore.ErrConnClosed))
}

func TestStartTwice(t *testing.T) {
	s, _ := startServer(t, memtable.New())
	assert.NotNil(t, s.Start(memtable.New()))
	assert.NotNil(t, logstore.NewServer().Start(nil))
	assert.Equal(t, logstore.ErrServerClosed, logstore.NewServer().Stop())
}

func TestRequestTimeout(t *testing.T) {
	_, port := startServer(t, memtable.New(), logstore.WithRequestTimeout(50*time.Millisecond))
	raw, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.Nil(t, err)
	defer raw.Close()
	// An opcode with no tuples behind it.
	_, err = raw.Write([]byte{byte(protocol.OpFind)})
	require.Nil(t, err)
	require.Nil(t, raw.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err = raw.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)
}

func TestPipelinedRequests(t *testing.T) {
	_, port := startServer(t, memtable.New(), logstore.WithThreads(1))
	raw, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.Nil(t, err)
	defer raw.Close()

	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		tp := protocol.NewTuple([]byte(fmt.Sprintf("k%d", i)), []byte("v"))
		require.Nil(t, protocol.WriteRequest(&buf, protocol.OpInsert, tp, nil, protocol.NoLimit))
		tp.Release()
	}
	_, err = raw.Write(buf.Bytes())
	require.Nil(t, err)
	require.Nil(t, raw.SetReadDeadline(time.Now().Add(3*time.Second)))
	for i := 0; i < 3; i++ {
		code, err := protocol.ReadCode(raw)
		require.Nil(t, err)
		assert.Equal(t, protocol.CodeSuccess, code)
	}
}

type exclusionObserver struct {
	readers    atomic.Int32
	writers    atomic.Int32
	reads      atomic.Int32
	writes     atomic.Int32
	violations atomic.Int32
}

func (o *exclusionObserver) Acquired(m table.Mode) {
	if m == table.WriteMode {
		o.writes.Inc()
		if o.writers.Inc() != 1 || o.readers.Load() != 0 {
			o.violations.Inc()
		}
		return
	}
	o.reads.Inc()
	o.readers.Inc()
	if o.writers.Load() != 0 {
		o.violations.Inc()
	}
}

func (o *exclusionObserver) Released(m table.Mode) {
	if m == table.WriteMode {
		o.writers.Dec()
		return
	}
	o.readers.Dec()
}
