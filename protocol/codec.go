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
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

var (
	// ErrShortFrame means the stream ended in the middle of a frame.
	ErrShortFrame = errors.New("protocol: stream closed mid-frame")
	// ErrFrameTooLarge means a tuple frame exceeded MaxTupleSize.
	ErrFrameTooLarge = errors.New("protocol: tuple frame too large")
	// ErrMalformedTuple means a tuple frame declared an impossible key length.
	ErrMalformedTuple = errors.New("protocol: malformed tuple frame")
	// ErrUnknownCode means the peer sent a byte that is not a response code.
	ErrUnknownCode = errors.New("protocol: unknown response code")
)

// Every frame written here is small enough that callers are expected to wrap
// the stream in a bufio.Writer and Flush once per message; a failed Flush
// means the message never fully left and the connection must be dropped.

// WriteOpcode writes a request opcode.
func WriteOpcode(w io.Writer, op Opcode) error {
	return writeByte(w, byte(op), "write opcode")
}

// WriteCode writes a response code. CodeConnClosed is local-only and is
// rejected.
func WriteCode(w io.Writer, c Code) error {
	if !c.valid() {
		return errors.Wrapf(ErrUnknownCode, "write code %s", c)
	}
	return writeByte(w, byte(c), "write code")
}

// WriteTuple writes t, or the empty-marker when t is nil.
func WriteTuple(w io.Writer, t *Tuple) error {
	if t == nil {
		return WriteEndOfSequence(w)
	}
	if len(t.buf)+4 > MaxTupleSize {
		return errors.Wrapf(ErrFrameTooLarge, "write tuple of %d bytes", len(t.buf))
	}
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(4+len(t.buf)))
	binary.BigEndian.PutUint32(hdr[4:], uint32(t.keyLen))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "write tuple header")
	}
	if len(t.buf) == 0 {
		return nil
	}
	if _, err := w.Write(t.buf); err != nil {
		return errors.Wrap(err, "write tuple body")
	}
	return nil
}

// WriteEndOfSequence writes the empty-marker.
func WriteEndOfSequence(w io.Writer) error {
	var hdr [4]byte
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "write end of sequence")
	}
	return nil
}

// WriteCount writes a count.
func WriteCount(w io.Writer, n uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	if _, err := w.Write(b[:]); err != nil {
		return errors.Wrap(err, "write count")
	}
	return nil
}

// ReadOpcode reads a request opcode. A stream that ends cleanly before the
// opcode byte yields io.EOF, so callers can tell a hang-up between requests
// from a broken one.
func ReadOpcode(r io.Reader) (Opcode, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, errors.Wrap(err, "read opcode")
	}
	return Opcode(b[0]), nil
}

// ReadCode reads a response code. Bytes outside the response code space are
// reported as ErrUnknownCode.
func ReadCode(r io.Reader) (Code, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return CodeConnClosed, errors.Wrap(shortFrame(err), "read code")
	}
	c := Code(b[0])
	if !c.valid() {
		return CodeInvalid, errors.Wrapf(ErrUnknownCode, "read code %d", b[0])
	}
	return c, nil
}

// ReadTuple reads one tuple. It returns (nil, nil) on the empty-marker, which
// ends a tuple sequence. On error no tuple is returned and any partially read
// buffer is recycled.
func ReadTuple(r io.Reader) (*Tuple, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(shortFrame(err), "read tuple header")
	}
	total := binary.BigEndian.Uint32(hdr[:])
	if total == 0 {
		return nil, nil
	}
	if total > MaxTupleSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "read tuple of %d bytes", total)
	}
	if total < 4 {
		return nil, errors.Wrapf(ErrMalformedTuple, "frame length %d", total)
	}
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(shortFrame(err), "read tuple key length")
	}
	keyLen := binary.BigEndian.Uint32(hdr[:])
	bodyLen := total - 4
	if keyLen > bodyLen {
		return nil, errors.Wrapf(ErrMalformedTuple, "key length %d exceeds body %d", keyLen, bodyLen)
	}
	buf := malloc(int(bodyLen))
	if _, err := io.ReadFull(r, buf); err != nil {
		free(buf)
		return nil, errors.Wrap(shortFrame(err), "read tuple body")
	}
	return &Tuple{buf: buf, keyLen: int(keyLen)}, nil
}

// ReadCount reads a count.
func ReadCount(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.Wrap(shortFrame(err), "read count")
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeByte(w io.Writer, b byte, what string) error {
	if bw, ok := w.(io.ByteWriter); ok {
		return errors.Wrap(bw.WriteByte(b), what)
	}
	_, err := w.Write([]byte{b})
	return errors.Wrap(err, what)
}

// shortFrame maps the end of the stream inside a frame to ErrShortFrame.
func shortFrame(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrShortFrame
	}
	return err
}
