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

package memtable

import (
	"bytes"

	"trpc.group/trpc-go/logstore/protocol"
)

const (
	maxLevel = 16
	// A node is promoted to the next level with probability 1/4.
	promoteMask = 3
)

type node struct {
	t       *protocol.Tuple
	forward []*node
}

// skiplist orders tuples by key. It is not safe for concurrent writers.
type skiplist struct {
	head  *node
	level int
	count int
	bytes int
	rng   uint64
}

func newSkiplist() *skiplist {
	return &skiplist{
		head: &node{forward: make([]*node, maxLevel)},
		rng:  0x9e3779b97f4a7c15,
	}
}

// randomLevel draws a geometric level with xorshift64.
func (s *skiplist) randomLevel() int {
	level := 0
	for level < maxLevel-1 {
		s.rng ^= s.rng << 13
		s.rng ^= s.rng >> 7
		s.rng ^= s.rng << 17
		if s.rng&promoteMask != 0 {
			break
		}
		level++
	}
	return level
}

// seek returns the last node with a key < key on every level, filling update
// when it is non-nil.
func (s *skiplist) seek(key []byte, update []*node) *node {
	x := s.head
	for i := s.level; i >= 0; i-- {
		for x.forward[i] != nil && bytes.Compare(x.forward[i].t.Key(), key) < 0 {
			x = x.forward[i]
		}
		if update != nil {
			update[i] = x
		}
	}
	return x
}

func (s *skiplist) get(key []byte) *protocol.Tuple {
	x := s.seek(key, nil).forward[0]
	if x != nil && bytes.Equal(x.t.Key(), key) {
		return x.t
	}
	return nil
}

// put stores t, replacing and returning the previous tuple with the same key.
func (s *skiplist) put(t *protocol.Tuple) (old *protocol.Tuple) {
	var update [maxLevel]*node
	x := s.seek(t.Key(), update[:]).forward[0]
	if x != nil && bytes.Equal(x.t.Key(), t.Key()) {
		old = x.t
		s.bytes += len(t.Key()) + len(t.Value()) - len(old.Key()) - len(old.Value())
		x.t = t
		return old
	}
	level := s.randomLevel()
	if level > s.level {
		for i := s.level + 1; i <= level; i++ {
			update[i] = s.head
		}
		s.level = level
	}
	n := &node{t: t, forward: make([]*node, level+1)}
	for i := 0; i <= level; i++ {
		n.forward[i] = update[i].forward[i]
		update[i].forward[i] = n
	}
	s.count++
	s.bytes += len(t.Key()) + len(t.Value())
	return nil
}

// ascend calls fn for each tuple with key >= lo in order until fn returns false.
func (s *skiplist) ascend(lo []byte, fn func(*protocol.Tuple) bool) {
	for x := s.seek(lo, nil).forward[0]; x != nil; x = x.forward[0] {
		if !fn(x.t) {
			return
		}
	}
}
