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

package table

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
	"trpc.group/trpc-go/logstore/metrics"
	"trpc.group/trpc-go/logstore/protocol"
)

// ErrGuardClosed is returned when acquiring a closed guard.
var ErrGuardClosed = errors.New("table: guard is closed")

// Mode is the mode a guard is held in.
type Mode int

// Guard modes.
const (
	ReadMode Mode = iota
	WriteMode
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == WriteMode {
		return "write"
	}
	return "read"
}

// Observer is notified right after a token is acquired and right before it is
// released. It runs while the guard is held and must not block.
type Observer interface {
	Acquired(m Mode)
	Released(m Mode)
}

// Guard is a reader/writer lock that owns the table. The table can only be
// reached through the tokens it hands out, so every access is made under the
// right mode. Fairness between readers and writers is whatever sync.RWMutex
// provides and is not otherwise guaranteed.
type Guard struct {
	mu     sync.RWMutex
	t      Table
	obs    Observer
	closed atomic.Bool
}

// NewGuard wraps t. obs may be nil.
func NewGuard(t Table, obs Observer) *Guard {
	return &Guard{t: t, obs: obs}
}

// Read acquires the guard in reader mode. The token must be released.
func (g *Guard) Read() (*ReadToken, error) {
	start := time.Now()
	g.mu.RLock()
	if g.closed.Load() {
		g.mu.RUnlock()
		return nil, ErrGuardClosed
	}
	metrics.Add(metrics.GuardReadAcquired, 1)
	metrics.Add(metrics.GuardReadWaitNanos, uint64(time.Since(start)))
	if g.obs != nil {
		g.obs.Acquired(ReadMode)
	}
	return &ReadToken{g: g}, nil
}

// Write acquires the guard in writer mode. The token must be released.
func (g *Guard) Write() (*WriteToken, error) {
	start := time.Now()
	g.mu.Lock()
	if g.closed.Load() {
		g.mu.Unlock()
		return nil, ErrGuardClosed
	}
	metrics.Add(metrics.GuardWriteAcquired, 1)
	metrics.Add(metrics.GuardWriteWaitNanos, uint64(time.Since(start)))
	if g.obs != nil {
		g.obs.Acquired(WriteMode)
	}
	return &WriteToken{ReadToken{g: g}}, nil
}

// Close waits for outstanding tokens and refuses further acquisitions.
// It does not close the table itself.
func (g *Guard) Close() {
	g.mu.Lock()
	g.closed.Store(true)
	g.mu.Unlock()
}

// ReadToken grants reader access until Release.
type ReadToken struct {
	g        *Guard
	released bool
}

// Find looks key up in the table.
func (r *ReadToken) Find(key []byte) *protocol.Tuple {
	r.check()
	return r.g.t.Find(key)
}

// Scan reads a key range. ok is false if the table cannot scan.
func (r *ReadToken) Scan(lo, hi []byte, limit uint64) (ts []*protocol.Tuple, ok bool) {
	r.check()
	s, ok := r.g.t.(Scanner)
	if !ok {
		return nil, false
	}
	return s.Scan(lo, hi, limit), true
}

// Release gives up reader access. Releasing twice panics.
func (r *ReadToken) Release() {
	r.check()
	r.released = true
	if r.g.obs != nil {
		r.g.obs.Released(ReadMode)
	}
	r.g.mu.RUnlock()
}

func (r *ReadToken) check() {
	if r.released {
		panic("table: use of released token")
	}
}

// WriteToken grants exclusive access until Release. It can also read.
type WriteToken struct {
	ReadToken
}

// Insert stores t in the table. See Table.Insert for ownership.
func (w *WriteToken) Insert(t *protocol.Tuple) bool {
	w.check()
	return w.g.t.Insert(t)
}

// Release gives up writer access. Releasing twice panics.
func (w *WriteToken) Release() {
	w.check()
	w.released = true
	if w.g.obs != nil {
		w.g.obs.Released(WriteMode)
	}
	w.g.mu.Unlock()
}
