//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

//go:build linux || freebsd || darwin
// +build linux freebsd darwin

// Package netutil provides socket helpers for the scheduler.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	reuseport "github.com/kavu/go_reuseport"
)

// GetFD returns the integer Unix file descriptor referencing the socket.
// The descriptor stays owned by socket: it must not be closed directly and
// is only valid while socket is open.
func GetFD(socket interface{}) (int, error) {
	conn, ok := socket.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("type %T doesn't implement syscall.Conn interface", socket)
	}
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("get raw connection fail %w", err)
	}

	fd := -1
	op := func(sysfd uintptr) {
		fd = int(sysfd)
	}
	err = rawConn.Control(op)
	if fd == -1 {
		return -1, errors.New("invalid file descriptor")
	}
	return fd, err
}

// Listen announces on a tcp address. With reuse set the socket is bound with
// SO_REUSEPORT so several servers can share the port.
func Listen(network, address string, reuse bool) (net.Listener, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("network %s is not support", network)
	}
	if reuse {
		return reuseport.Listen(network, address)
	}
	return net.Listen(network, address)
}
