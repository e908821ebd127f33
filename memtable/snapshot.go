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
	"bufio"
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
	"trpc.group/trpc-go/logstore/protocol"
)

// Snapshot layout:
//
//	magic "LSMS" | blake3-256 of the record stream | zstd(record stream)
//
// The record stream is the tuples in key order, each encoded exactly as on
// the wire, closed by the empty-marker.
var snapshotMagic = [4]byte{'L', 'S', 'M', 'S'}

// ErrCorruptSnapshot is returned when a snapshot fails validation.
var ErrCorruptSnapshot = errors.New("memtable: corrupt snapshot")

// Save writes every tuple to w.
func (t *Table) Save(w io.Writer) error {
	var records bytes.Buffer
	var err error
	t.sl.ascend(nil, func(tp *protocol.Tuple) bool {
		err = protocol.WriteTuple(&records, tp)
		return err == nil
	})
	if err != nil {
		return errors.Wrap(err, "encode snapshot records")
	}
	if err := protocol.WriteEndOfSequence(&records); err != nil {
		return errors.Wrap(err, "encode snapshot trailer")
	}
	sum := blake3.Sum256(records.Bytes())

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(snapshotMagic[:]); err != nil {
		return errors.Wrap(err, "write snapshot magic")
	}
	if _, err := bw.Write(sum[:]); err != nil {
		return errors.Wrap(err, "write snapshot digest")
	}
	enc, err := zstd.NewWriter(bw)
	if err != nil {
		return errors.Wrap(err, "create zstd writer")
	}
	if _, err := enc.Write(records.Bytes()); err != nil {
		enc.Close()
		return errors.Wrap(err, "compress snapshot")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "finish snapshot")
	}
	return errors.Wrap(bw.Flush(), "flush snapshot")
}

// Load reads a snapshot produced by Save into a new table.
func Load(r io.Reader) (*Table, error) {
	var hdr [4 + 32]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(ErrCorruptSnapshot, "short header")
	}
	if !bytes.Equal(hdr[:4], snapshotMagic[:]) {
		return nil, errors.Wrap(ErrCorruptSnapshot, "bad magic")
	}
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd reader")
	}
	defer dec.Close()
	records, err := io.ReadAll(dec)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptSnapshot, "decompress: %v", err)
	}
	if sum := blake3.Sum256(records); !bytes.Equal(sum[:], hdr[4:]) {
		return nil, errors.Wrap(ErrCorruptSnapshot, "digest mismatch")
	}
	t := New()
	rd := bytes.NewReader(records)
	for {
		tp, err := protocol.ReadTuple(rd)
		if err != nil {
			t.Release()
			return nil, errors.Wrapf(ErrCorruptSnapshot, "decode record: %v", err)
		}
		if tp == nil {
			return t, nil
		}
		if !t.Insert(tp) {
			tp.Release()
		}
	}
}
