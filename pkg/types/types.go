// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

// Package types defines the common types shared by the tethering packages
package types

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// State is the orchestrator lifecycle state
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText lets State render as its name in JSON status documents
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "stopped":
		*s = StateStopped
	case "starting":
		*s = StateStarting
	case "running":
		*s = StateRunning
	default:
		return fmt.Errorf("unknown state %q", string(b))
	}
	return nil
}

// FailureReason classifies a fatal failure for the notifier
type FailureReason string

const (
	FailureRoot       FailureReason = "root"
	FailureSupplicant FailureReason = "supplicant"
	FailureOther      FailureReason = "other"
)

// Error taxonomy of the orchestrator. Callers match with errors.Is.
var (
	ErrProvision         = errors.New("provisioning failed")
	ErrUplinkUnavailable = errors.New("uplink unavailable")
	ErrProcessSpawn      = errors.New("could not start helper process")
	ErrProcessCrashed    = errors.New("helper process terminated unexpectedly")
	ErrControlSocket     = errors.New("control socket error")
	ErrReaderFault       = errors.New("output reader fault")
)

// ClientLease represents one DHCP-acknowledged client
type ClientLease struct {
	// MAC is the canonical lowercase colon-hex link-layer address
	MAC string `json:"mac"`
	// IP is the assigned network address
	IP string `json:"ip"`
	// Hostname is optional, empty when the client did not send one
	Hostname string `json:"hostname,omitempty"`
	// Allowed is the filter verdict for this client
	Allowed bool `json:"allowed"`
}

// DisplayName returns the hostname when known, the MAC otherwise
func (c ClientLease) DisplayName() string {
	if c.Hostname != "" {
		return c.Hostname
	}
	return c.MAC
}

func (c ClientLease) String() string {
	return fmt.Sprintf("%s %s %s", c.MAC, c.IP, c.Hostname)
}

// CanonicalMAC parses a link-layer address and returns its lowercase colon-hex form.
// Only 6-byte addresses are accepted.
func CanonicalMAC(s string) (string, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return "", err
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("invalid link-layer address %q: want 6 bytes, got %d", s, len(hw))
	}
	return hw.String(), nil
}

// TrafficSample holds interface counters
type TrafficSample struct {
	RxBytes   uint64 `json:"rxBytes"`
	RxPackets uint64 `json:"rxPackets"`
	TxBytes   uint64 `json:"txBytes"`
	TxPackets uint64 `json:"txPackets"`
}

// LogLine is one entry of the session log
type LogLine struct {
	Time  time.Time `json:"time"`
	Error bool      `json:"error,omitempty"`
	Text  string    `json:"text"`
}

// TrafficStatus is the published view of the traffic statistics
type TrafficStatus struct {
	Total      TrafficSample `json:"total"`
	Rate       TrafficSample `json:"rate"`
	LastUpdate time.Time     `json:"lastUpdate"`
}

// Status is an immutable snapshot of an orchestrator, safe to read from any goroutine
type Status struct {
	Name      string        `json:"name"`
	State     State         `json:"state"`
	LanIface  string        `json:"lanIface,omitempty"`
	LanMAC    string        `json:"lanMac,omitempty"`
	Filtering bool          `json:"filtering"`
	Clients   []ClientLease `json:"clients"`
	Traffic   TrafficStatus `json:"traffic"`
	Log       []LogLine     `json:"log"`
	UpdatedAt time.Time     `json:"updatedAt"`
}
