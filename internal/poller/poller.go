// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package poller provides a readiness multiplexer over socket file
// descriptors. It only reports which descriptors became readable; reading
// them is left to the caller.
package poller

import "fmt"

// Event defines the operation of Poller.Control.
type Event int

// String implements fmt.Stringer.
func (e Event) String() string {
	switch e {
	case Listen:
		return "Listen"
	case Readable:
		return "Readable"
	case Rearm:
		return "Rearm"
	case Detach:
		return "Detach"
	default:
		return fmt.Sprintf("Event(%d)", e)
	}
}

// Constants for Poller.Control.
const (
	// Listen registers fd for level-triggered read readiness that stays armed.
	Listen Event = iota
	// Readable registers fd for a single read readiness report. After it is
	// reported the fd stays registered but disarmed until Rearm.
	Readable
	// Rearm re-enables a disarmed Readable registration.
	Rearm
	// Detach removes fd from the poller.
	Detach
)

// Poller monitors file descriptors for read readiness.
type Poller interface {
	// Wait blocks until at least one descriptor is ready, Trigger is called,
	// or msec milliseconds elapse (msec < 0 waits forever). It stores ready
	// descriptors in fds and returns how many it stored; a wakeup caused only
	// by Trigger returns 0.
	Wait(fds []int, msec int) (int, error)

	// Trigger wakes up a blocked Wait. Concurrent triggers are coalesced.
	Trigger() error

	// Control changes the registration of fd.
	Control(fd int, e Event) error

	// Close releases the poller.
	Close() error
}

// New creates the platform poller.
func New() (Poller, error) {
	return newPoller()
}
