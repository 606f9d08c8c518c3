// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package netstate

import (
	"context"
	"errors"
)

var errUnsupported = errors.New("radio control is not supported on this platform")

// otherPlatform cannot observe the network. It reports a disabled radio and a
// present uplink so the helper can still be started.
type otherPlatform struct{}

// NewPlatform returns the platform for the running operating system
func NewPlatform(wifiIface, supplicantDir string) Platform {
	return otherPlatform{}
}

func (otherPlatform) Capabilities() Capabilities {
	return Capabilities{}
}

func (otherPlatform) Snapshot() (Snapshot, error) {
	return Snapshot{Radio: RadioDisabled, Uplink: true}, nil
}

func (otherPlatform) DisableRadio() error {
	return errUnsupported
}

func (otherPlatform) Subscribe(ctx context.Context, notify func()) error {
	return nil
}

// DefaultRouteInterface always reports no default route
func DefaultRouteInterface(exclude string) (string, error) {
	return "", nil
}
