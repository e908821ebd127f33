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

// Package logstore provides the network access layer of a log-structured
// key/value store: a server that multiplexes many persistent connections
// onto a fixed pool of workers sharing one guarded table, and a client that
// speaks the same protocol.
package logstore

import (
	"errors"
	"fmt"

	"trpc.group/trpc-go/logstore/protocol"
)

var (
	// ErrConnClosed means the connection was lost or torn down. The next
	// operation on the client reconnects.
	ErrConnClosed = errors.New("logstore: connection closed")
	// ErrFail is the server's FAIL response: a miss or a refused write.
	ErrFail = errors.New("logstore: operation failed")
	// ErrInvalid is the server's INVALID response, or a request rejected
	// locally before it was sent.
	ErrInvalid = errors.New("logstore: invalid request")
	// ErrTooManyTuples means a single-result call received two or more
	// tuples. The connection is closed because the stream cannot be resynced.
	ErrTooManyTuples = errors.New("logstore: too many tuples for a single-result call")
	// ErrServerClosed is returned by Stop on a server that is not running.
	ErrServerClosed = errors.New("logstore: server closed")
)

// codeError maps a non-success response code to its error.
func codeError(c protocol.Code) error {
	switch c {
	case protocol.CodeSuccess, protocol.CodeSendingTuples:
		return nil
	case protocol.CodeFail:
		return ErrFail
	case protocol.CodeInvalid:
		return ErrInvalid
	case protocol.CodeConnClosed:
		return ErrConnClosed
	default:
		return fmt.Errorf("%w: unexpected code %s", ErrInvalid, c)
	}
}
