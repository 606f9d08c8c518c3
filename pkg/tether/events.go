// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package tether

import (
	"fmt"

	"github.com/szym/barnacle/pkg/helper"
	"github.com/szym/barnacle/pkg/netstate"
)

type eventKind int

const (
	eventStart eventKind = iota
	eventStop
	eventToggle
	eventAssociate
	eventFilter
	eventDmz
	eventStats
	eventNetwork
	eventOutput
)

func (k eventKind) String() string {
	switch k {
	case eventStart:
		return "start"
	case eventStop:
		return "stop"
	case eventToggle:
		return "toggle"
	case eventAssociate:
		return "associate"
	case eventFilter:
		return "filter"
	case eventDmz:
		return "dmz"
	case eventStats:
		return "stats"
	case eventNetwork:
		return "network"
	case eventOutput:
		return "output"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// event is one item of the orchestrator queue. Items are always pointers so
// the queue never merges two equal events.
type event struct {
	kind eventKind

	// generation of coalesced events, stats and associate
	gen uint64

	mac     string
	allowed bool
	ip      string

	snapshot netstate.Snapshot
	output   helper.Output
}
