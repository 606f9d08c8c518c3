// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

// Package clients keeps the ordered list of DHCP clients seen during a run.
package clients

import (
	"github.com/szym/barnacle/pkg/log"
	"github.com/szym/barnacle/pkg/types"
)

// UpsertResult tells the caller what an Upsert did
type UpsertResult int

const (
	// Added means a new link-layer address was appended
	Added UpsertResult = iota
	// Changed means a known address moved to a new IP and was re-appended
	Changed
	// Renewed means the lease is unchanged
	Renewed
)

func (r UpsertResult) String() string {
	switch r {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Renewed:
		return "renewed"
	}
	return "unknown"
}

// Registry is the insertion-ordered set of client leases, keyed by MAC.
// It is not synchronized; the orchestrator event loop is its only user.
type Registry struct {
	leases []types.ClientLease
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Upsert records a lease acknowledgement and returns the stored entry
func (r *Registry) Upsert(lease types.ClientLease) (UpsertResult, types.ClientLease) {
	result := Added
	for i, c := range r.leases {
		if c.MAC != lease.MAC {
			continue
		}
		if c.IP == lease.IP {
			log.Logger.Debugf("client %s renewed %s", c.MAC, c.IP)
			return Renewed, c
		}
		log.Logger.Debugf("client %s moved from %s to %s", c.MAC, c.IP, lease.IP)
		lease.Allowed = c.Allowed
		r.leases = append(r.leases[:i], r.leases[i+1:]...)
		result = Changed
		break
	}
	r.leases = append(r.leases, lease)
	return result, lease
}

// SetAllowed updates the filter flag of a known client, reporting whether it was found
func (r *Registry) SetAllowed(mac string, allowed bool) bool {
	for i := range r.leases {
		if r.leases[i].MAC == mac {
			r.leases[i].Allowed = allowed
			return true
		}
	}
	return false
}

// Allowed returns the MACs currently marked allowed, in registry order
func (r *Registry) Allowed() []string {
	var macs []string
	for _, c := range r.leases {
		if c.Allowed {
			macs = append(macs, c.MAC)
		}
	}
	return macs
}

// List returns a copy of the leases in insertion order
func (r *Registry) List() []types.ClientLease {
	out := make([]types.ClientLease, len(r.leases))
	copy(out, r.leases)
	return out
}

func (r *Registry) Len() int {
	return len(r.leases)
}

func (r *Registry) Clear() {
	r.leases = nil
}
