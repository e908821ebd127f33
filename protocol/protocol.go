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

// Package protocol implements the logstore wire format.
//
// A request is an opcode byte followed by two tuples (either may be the
// empty-marker) and, for opcodes that declare it, a 64-bit count. A response
// is a single code byte, optionally followed by a sequence of tuples closed
// by the empty-marker.
package protocol

import (
	"fmt"
	"math"
)

// DefaultPort is the port used when none is configured.
const DefaultPort = 32432

// NoLimit is the count sentinel meaning "unbounded". A count equal to NoLimit
// is never written to the wire.
const NoLimit uint64 = math.MaxUint64

// MaxTupleSize bounds the encoded size of a single tuple. Larger frames are
// treated as a protocol violation.
const MaxTupleSize = 64 << 20

// Opcode selects the operation of a request.
type Opcode uint8

// Request opcodes recognized by the server.
const (
	OpInsert     Opcode = 8
	OpFind       Opcode = 9
	OpScan       Opcode = 11
	OpDone       Opcode = 12
	OpBulkInsert Opcode = 13
	OpScanLimit  Opcode = 14
)

// String implements fmt.Stringer.
func (op Opcode) String() string {
	switch op {
	case OpInsert:
		return "INSERT"
	case OpFind:
		return "FIND"
	case OpScan:
		return "SCAN"
	case OpDone:
		return "DONE"
	case OpBulkInsert:
		return "BULK_INSERT"
	case OpScanLimit:
		return "SCAN_LIMIT"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(op))
	}
}

// IsResponse reports whether op falls in the response code space. Such a
// byte is never a valid request opcode.
func (op Opcode) IsResponse() bool {
	switch Code(op) {
	case CodeSuccess, CodeFail, CodeSendingTuples, CodeConnClosed, CodeInvalid:
		return true
	default:
		return false
	}
}

// HasCount reports whether a request with this opcode carries a count
// after its two tuples.
func (op Opcode) HasCount() bool {
	return op == OpScanLimit
}

// Code is a response code. It doubles as the response shape selector.
type Code uint8

// Response codes. CodeConnClosed is local to the client and is never sent.
const (
	CodeSuccess       Code = 1
	CodeFail          Code = 2
	CodeSendingTuples Code = 3
	CodeConnClosed    Code = 28
	CodeInvalid       Code = 32
)

// String implements fmt.Stringer.
func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "SUCCESS"
	case CodeFail:
		return "FAIL"
	case CodeSendingTuples:
		return "SENDING_TUPLES"
	case CodeConnClosed:
		return "CONN_CLOSED"
	case CodeInvalid:
		return "INVALID"
	default:
		return fmt.Sprintf("Code(%d)", uint8(c))
	}
}

// valid reports whether c may legally appear on the wire.
func (c Code) valid() bool {
	switch c {
	case CodeSuccess, CodeFail, CodeSendingTuples, CodeInvalid:
		return true
	default:
		return false
	}
}
