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

package protocol

import (
	"io"

	"github.com/pkg/errors"
)

// ErrCountMismatch means a count was supplied for an opcode that does not
// carry one, or omitted for an opcode that requires one.
var ErrCountMismatch = errors.New("protocol: count does not match opcode")

// Request is a decoded request header. Count is NoLimit when absent.
type Request struct {
	Op    Opcode
	A     *Tuple
	B     *Tuple
	Count uint64
}

// Release releases both tuples still owned by the request.
func (r *Request) Release() {
	r.A.Release()
	r.B.Release()
	r.A, r.B = nil, nil
}

// TakeA moves ownership of the first tuple to the caller.
func (r *Request) TakeA() *Tuple {
	t := r.A
	r.A = nil
	return t
}

// CheckCount verifies that count presence agrees with op.
func CheckCount(op Opcode, count uint64) error {
	if op.HasCount() != (count != NoLimit) {
		return errors.Wrapf(ErrCountMismatch, "%s with count %d", op, count)
	}
	return nil
}

// WriteRequest encodes a request header. The count is written iff it is not
// NoLimit. OpDone is a bare opcode with no tuples.
func WriteRequest(w io.Writer, op Opcode, a, b *Tuple, count uint64) error {
	if err := WriteOpcode(w, op); err != nil {
		return err
	}
	if op == OpDone {
		return nil
	}
	if err := WriteTuple(w, a); err != nil {
		return err
	}
	if err := WriteTuple(w, b); err != nil {
		return err
	}
	if count == NoLimit {
		return nil
	}
	return WriteCount(w, count)
}

// ReadRequest decodes a request header. Unrecognized opcodes are returned
// as-is with their tuples so the stream stays in sync; the caller answers
// them with CodeInvalid. A clean hang-up before the opcode yields io.EOF.
func ReadRequest(r io.Reader) (*Request, error) {
	op, err := ReadOpcode(r)
	if err != nil {
		return nil, err
	}
	req := &Request{Op: op, Count: NoLimit}
	if op == OpDone {
		return req, nil
	}
	if req.A, err = ReadTuple(r); err != nil {
		return nil, err
	}
	if req.B, err = ReadTuple(r); err != nil {
		req.Release()
		return nil, err
	}
	if !op.HasCount() {
		return req, nil
	}
	if req.Count, err = ReadCount(r); err != nil {
		req.Release()
		return nil, err
	}
	return req, nil
}
