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

// Package memtable provides an in-memory ordered table. It stands in for the
// LSM tree when the server runs without one, and in tests.
package memtable

import (
	"bytes"

	"trpc.group/trpc-go/logstore/protocol"
	"trpc.group/trpc-go/logstore/table"
)

var (
	_ table.Table   = (*Table)(nil)
	_ table.Scanner = (*Table)(nil)
)

// Table is a skiplist keyed by tuple key. Inserting an existing key replaces
// its value. Concurrent Find and Scan calls are safe with each other; Insert
// must be exclusive, which table.Guard ensures.
type Table struct {
	sl *skiplist
}

// New creates an empty table.
func New() *Table {
	return &Table{sl: newSkiplist()}
}

// Find implements table.Table.
func (t *Table) Find(key []byte) *protocol.Tuple {
	if found := t.sl.get(key); found != nil {
		return found.Clone()
	}
	return nil
}

// Insert implements table.Table. Tuples with an empty key are refused.
func (t *Table) Insert(tp *protocol.Tuple) bool {
	if tp == nil || len(tp.Key()) == 0 {
		return false
	}
	t.sl.put(tp).Release()
	return true
}

// Scan implements table.Scanner.
func (t *Table) Scan(lo, hi []byte, limit uint64) []*protocol.Tuple {
	var out []*protocol.Tuple
	if limit == 0 {
		return out
	}
	t.sl.ascend(lo, func(tp *protocol.Tuple) bool {
		if hi != nil && bytes.Compare(tp.Key(), hi) >= 0 {
			return false
		}
		out = append(out, tp.Clone())
		return limit == protocol.NoLimit || uint64(len(out)) < limit
	})
	return out
}

// Len returns the number of keys.
func (t *Table) Len() int {
	return t.sl.count
}

// Bytes returns the total size of keys and values held.
func (t *Table) Bytes() int {
	return t.sl.bytes
}

// Release frees every tuple held by the table. The table is empty afterwards.
func (t *Table) Release() {
	t.sl.ascend(nil, func(tp *protocol.Tuple) bool {
		tp.Release()
		return true
	})
	t.sl = newSkiplist()
}
