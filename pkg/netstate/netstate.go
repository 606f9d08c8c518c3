// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

// Package netstate observes the wifi radio and the uplink and reports changes.
package netstate

import (
	"context"
	"fmt"
)

// RadioState is the state of the station mode wifi radio. The zero value is
// RadioUnknown, so a radio that was never read is never taken as disabled.
type RadioState int

const (
	RadioUnknown RadioState = iota
	RadioDisabled
	RadioEnabling
	RadioEnabled
)

func (s RadioState) String() string {
	switch s {
	case RadioDisabled:
		return "disabled"
	case RadioEnabling:
		return "enabling"
	case RadioEnabled:
		return "enabled"
	}
	return "unknown"
}

// Active reports whether the radio is on or coming up, which conflicts with the access point
func (s RadioState) Active() bool {
	return s == RadioEnabled || s == RadioEnabling
}

// Snapshot is the network state at one point in time
type Snapshot struct {
	Radio       RadioState
	Uplink      bool
	UplinkIface string
}

func (s Snapshot) String() string {
	return fmt.Sprintf("radio=%s uplink=%t(%s)", s.Radio, s.Uplink, s.UplinkIface)
}

// Capabilities are resolved once when the platform is created
type Capabilities struct {
	// LinkEvents means Subscribe delivers change notifications
	LinkEvents bool
	// RadioControl means DisableRadio can actually turn the radio off
	RadioControl bool
}

// Platform abstracts the operating system network stack
type Platform interface {
	// Snapshot reads the current state. On error the returned snapshot still
	// carries whatever could be read.
	Snapshot() (Snapshot, error)
	DisableRadio() error
	// Subscribe arranges for notify to be called on every link or route
	// change until ctx is done. It must not block.
	Subscribe(ctx context.Context, notify func()) error
	Capabilities() Capabilities
}
