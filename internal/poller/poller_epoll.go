// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build linux
// +build linux

package poller

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/logstore/metrics"
)

const (
	rflags            = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLPRI
	defaultEventCount = 64
)

type epoll struct {
	fd       int
	efd      int
	events   []unix.EpollEvent
	buf      []byte
	notified atomic.Bool
}

func newPoller() (Poller, error) {
	// Provide EPOLL_CLOEXEC flag for consistency with Go runtime.
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	// Provide EFD_CLOEXEC flag for consistency with Go runtime.
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	ep := &epoll{
		fd:     fd,
		efd:    efd,
		events: make([]unix.EpollEvent, defaultEventCount),
		buf:    make([]byte, 8),
	}
	if err := ep.ctl(unix.EPOLL_CTL_ADD, efd, unix.EPOLLIN); err != nil {
		ep.Close()
		return nil, err
	}
	return ep, nil
}

// Wait implements Poller.
func (ep *epoll) Wait(fds []int, msec int) (int, error) {
	events := ep.events
	if len(fds) < len(events) {
		events = events[:len(fds)]
	}
	n, err := unix.EpollWait(ep.fd, events, msec)
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, os.NewSyscallError("epoll_wait", err)
	}
	metrics.Add(metrics.PollWait, 1)
	ready := 0
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd == ep.efd {
			ep.notified.Store(false)
			_, _ = unix.Read(ep.efd, ep.buf)
			continue
		}
		fds[ready] = fd
		ready++
	}
	metrics.Add(metrics.PollEvents, uint64(ready))
	return ready, nil
}

// Trigger implements Poller.
func (ep *epoll) Trigger() error {
	if !ep.notified.CAS(false, true) {
		return nil
	}
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	for {
		_, err := unix.Write(ep.efd, one[:])
		switch err {
		case nil, unix.EAGAIN:
			// EAGAIN means the counter is saturated, which still wakes Wait.
			return nil
		case unix.EINTR:
			continue
		default:
			return os.NewSyscallError("write", err)
		}
	}
}

// Control implements Poller.
func (ep *epoll) Control(fd int, e Event) (err error) {
	defer func() {
		if err != nil { // Prevent unconditional execution of fmt.Sprintf.
			err = errors.Wrap(err, fmt.Sprintf("event: %s, fd: %d", e, fd))
		}
	}()
	switch e {
	case Listen:
		return ep.ctl(unix.EPOLL_CTL_ADD, fd, rflags)
	case Readable:
		return ep.ctl(unix.EPOLL_CTL_ADD, fd, rflags|unix.EPOLLONESHOT)
	case Rearm:
		return ep.ctl(unix.EPOLL_CTL_MOD, fd, rflags|unix.EPOLLONESHOT)
	case Detach:
		return ep.ctl(unix.EPOLL_CTL_DEL, fd, 0)
	default:
		return errors.New("event not supported")
	}
}

func (ep *epoll) ctl(op int, fd int, flags uint32) error {
	evt := &unix.EpollEvent{Events: flags, Fd: int32(fd)}
	if op == unix.EPOLL_CTL_DEL {
		evt = nil
	}
	if err := unix.EpollCtl(ep.fd, op, fd, evt); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

// Close implements Poller.
func (ep *epoll) Close() error {
	if err := os.NewSyscallError("close", unix.Close(ep.fd)); err != nil {
		return err
	}
	return os.NewSyscallError("close", unix.Close(ep.efd))
}
