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

// Package table defines the table collaborator the server dispatches into and
// the guard that serializes every access to it.
package table

import "trpc.group/trpc-go/logstore/protocol"

// Table is the ordered key/value store behind the server.
//
// Implementations need not be safe for concurrent use on their own: the
// server only reaches a Table through a Guard, which admits many concurrent
// Find calls or a single Insert. Neither method may block on network I/O.
type Table interface {
	// Find returns a tuple owned by the caller, or nil if key is absent.
	Find(key []byte) *protocol.Tuple

	// Insert stores t. On success the table takes ownership of t; on failure
	// ownership stays with the caller.
	Insert(t *protocol.Tuple) bool
}

// Scanner is implemented by tables that support ordered range reads.
type Scanner interface {
	// Scan returns up to limit tuples with lo <= key and, when hi is non-nil,
	// key < hi, in key order. limit == protocol.NoLimit means unbounded.
	// The returned tuples are owned by the caller.
	Scan(lo, hi []byte, limit uint64) []*protocol.Tuple
}
