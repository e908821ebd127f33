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
	"bytes"
	"fmt"

	"go.uber.org/atomic"
)

// Tuple is an immutable key/value record exchanged between client and server.
//
// A tuple has exactly one owner. Whoever holds it last calls Release, which
// recycles the underlying buffer; the key and value slices must not be used
// afterwards. Releasing a nil tuple is a no-op, releasing twice panics.
type Tuple struct {
	buf      []byte // key followed by value
	keyLen   int
	released atomic.Bool
}

// NewTuple copies key and value into a freshly allocated tuple.
func NewTuple(key, value []byte) *Tuple {
	buf := malloc(len(key) + len(value))
	copy(buf, key)
	copy(buf[len(key):], value)
	return &Tuple{buf: buf, keyLen: len(key)}
}

// EmptyTuple returns the canonical empty tuple: empty key, empty value.
// It is not the same thing as the empty-marker, which is a nil *Tuple.
func EmptyTuple() *Tuple {
	return NewTuple(nil, nil)
}

// Key returns the key bytes. The slice is only valid until Release.
func (t *Tuple) Key() []byte {
	return t.buf[:t.keyLen:t.keyLen]
}

// Value returns the value bytes. The slice is only valid until Release.
func (t *Tuple) Value() []byte {
	return t.buf[t.keyLen:]
}

// IsEmpty reports whether t is the canonical empty tuple.
func (t *Tuple) IsEmpty() bool {
	return len(t.buf) == 0
}

// EncodedLen returns the number of bytes WriteTuple produces for t.
func (t *Tuple) EncodedLen() int {
	return 4 + 4 + len(t.buf)
}

// Clone returns a copy of t with its own buffer.
func (t *Tuple) Clone() *Tuple {
	return NewTuple(t.Key(), t.Value())
}

// Compare orders tuples by key.
func (t *Tuple) Compare(o *Tuple) int {
	return bytes.Compare(t.Key(), o.Key())
}

// Equal reports whether both key and value are equal.
func (t *Tuple) Equal(o *Tuple) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.keyLen == o.keyLen && bytes.Equal(t.buf, o.buf)
}

// Release returns the tuple's buffer to the pool.
func (t *Tuple) Release() {
	if t == nil {
		return
	}
	if !t.released.CAS(false, true) {
		panic("protocol: tuple released twice")
	}
	free(t.buf)
	t.buf = nil
	t.keyLen = 0
}

// String implements fmt.Stringer.
func (t *Tuple) String() string {
	if t == nil {
		return "<end>"
	}
	return fmt.Sprintf("(%q, %q)", t.Key(), t.Value())
}

// ReleaseAll releases every tuple in ts.
func ReleaseAll(ts []*Tuple) {
	for _, t := range ts {
		t.Release()
	}
}
