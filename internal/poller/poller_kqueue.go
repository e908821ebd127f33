// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build freebsd || darwin
// +build freebsd darwin

package poller

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/logstore/metrics"
)

const (
	defaultKevent = 64
	// wakeIdent identifies the EVFILT_USER event used by Trigger.
	wakeIdent = 0
)

type kqueue struct {
	fd       int
	events   []unix.Kevent_t
	notified atomic.Bool
}

func newPoller() (Poller, error) {
	kqueueFD, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	// Provide FD_CLOEXEC flag for consistency with Go runtime.
	if _, err := unix.FcntlInt(uintptr(kqueueFD), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(kqueueFD)
		return nil, err
	}
	var wake unix.Kevent_t
	unix.SetKevent(&wake, wakeIdent, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR)
	if _, err = unix.Kevent(kqueueFD, []unix.Kevent_t{wake}, nil, nil); err != nil {
		unix.Close(kqueueFD)
		return nil, os.NewSyscallError("kevent add|clear", err)
	}
	return &kqueue{
		fd:     kqueueFD,
		events: make([]unix.Kevent_t, defaultKevent),
	}, nil
}

// Wait implements Poller.
func (k *kqueue) Wait(fds []int, msec int) (int, error) {
	var timeout *unix.Timespec
	if msec >= 0 {
		ts := unix.NsecToTimespec(int64(msec) * 1e6)
		timeout = &ts
	}
	events := k.events
	if len(fds) < len(events) {
		events = events[:len(fds)]
	}
	n, err := unix.Kevent(k.fd, nil, events, timeout)
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, os.NewSyscallError("kevent", err)
	}
	metrics.Add(metrics.PollWait, 1)
	ready := 0
	for i := 0; i < n; i++ {
		if events[i].Filter == unix.EVFILT_USER {
			k.notified.Store(false)
			continue
		}
		fds[ready] = int(events[i].Ident)
		ready++
	}
	metrics.Add(metrics.PollEvents, uint64(ready))
	return ready, nil
}

// Trigger implements Poller.
func (k *kqueue) Trigger() error {
	if !k.notified.CAS(false, true) {
		return nil
	}
	var wake unix.Kevent_t
	unix.SetKevent(&wake, wakeIdent, unix.EVFILT_USER, 0)
	wake.Fflags = unix.NOTE_TRIGGER
	for {
		_, err := unix.Kevent(k.fd, []unix.Kevent_t{wake}, nil, nil)
		if err != unix.EINTR {
			return os.NewSyscallError("kevent", err)
		}
	}
}

// Control implements Poller.
func (k *kqueue) Control(fd int, e Event) (err error) {
	defer func() {
		if err != nil { // Prevent unconditional execution of fmt.Sprintf.
			err = errors.Wrap(err, fmt.Sprintf("event: %s, fd: %d", e, fd))
		}
	}()
	switch e {
	case Listen:
		return k.change(fd, unix.EV_ADD|unix.EV_ENABLE)
	case Readable, Rearm:
		return k.change(fd, unix.EV_ADD|unix.EV_ENABLE|unix.EV_ONESHOT)
	case Detach:
		err := k.change(fd, unix.EV_DELETE)
		// A fired one-shot registration is already gone.
		if errors.Is(err, unix.ENOENT) {
			return nil
		}
		return err
	default:
		return errors.New("event not supported")
	}
}

func (k *kqueue) change(fd int, flags int) error {
	var evt unix.Kevent_t
	unix.SetKevent(&evt, fd, unix.EVFILT_READ, flags)
	if _, err := unix.Kevent(k.fd, []unix.Kevent_t{evt}, nil, nil); err != nil {
		return os.NewSyscallError("kevent", err)
	}
	return nil
}

// Close implements Poller.
func (k *kqueue) Close() error {
	return os.NewSyscallError("close", unix.Close(k.fd))
}
