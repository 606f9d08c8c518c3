// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package netstate

import (
	"context"
	"time"

	"github.com/szym/barnacle/pkg/constants"
	"github.com/szym/barnacle/pkg/log"
)

// Reactor turns platform notifications into de-duplicated snapshots
type Reactor struct {
	platform Platform
	interval time.Duration

	last    Snapshot
	hasLast bool
}

// NewReactor creates a reactor that also re-reads the state every interval
func NewReactor(platform Platform, interval time.Duration) *Reactor {
	if interval <= 0 {
		interval = constants.StatePollInterval
	}
	return &Reactor{platform: platform, interval: interval}
}

// Run forwards the current snapshot and then every snapshot that differs from
// the previously forwarded one, until ctx is done.
func (r *Reactor) Run(ctx context.Context, forward func(Snapshot)) error {
	changed := make(chan struct{}, 1)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	if r.platform.Capabilities().LinkEvents {
		if err := r.platform.Subscribe(ctx, notify); err != nil {
			log.Logger.Warnf("failed to subscribe to link events, polling every %v: %v", r.interval, err)
		}
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.evaluate(forward)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			r.evaluate(forward)
		case <-ticker.C:
			r.evaluate(forward)
		}
	}
}

func (r *Reactor) evaluate(forward func(Snapshot)) {
	snap, err := r.platform.Snapshot()
	if err != nil {
		log.Logger.Debugf("failed to read network state: %v", err)
		return
	}
	if r.hasLast && snap == r.last {
		return
	}
	r.last = snap
	r.hasLast = true
	log.Logger.Debugf("network state changed: %s", snap)
	forward(snap)
}
