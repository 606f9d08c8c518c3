// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package clients

import (
	"fmt"
	"testing"

	"github.com/szym/barnacle/pkg/types"
)

const mac1 = "11:22:33:44:55:66"

func TestUpsertSameAddressIsIdempotent(t *testing.T) {
	r := NewRegistry()
	lease := types.ClientLease{MAC: mac1, IP: "192.168.1.5", Hostname: "phone1"}

	if res, _ := r.Upsert(lease); res != Added {
		t.Fatalf("first upsert: got %v", res)
	}
	r.SetAllowed(mac1, true)

	for i := 0; i < 5; i++ {
		res, stored := r.Upsert(lease)
		if res != Renewed {
			t.Fatalf("repeat %d: got %v", i, res)
		}
		if !stored.Allowed {
			t.Fatalf("repeat %d lost the allowed flag", i)
		}
	}
	if r.Len() != 1 {
		t.Fatalf("expected one entry, got %d", r.Len())
	}
	if got := r.List()[0]; got.MAC != mac1 || !got.Allowed {
		t.Fatalf("stored lease is %+v", got)
	}
}

func TestUpsertChangedAddressMovesLast(t *testing.T) {
	r := NewRegistry()
	r.Upsert(types.ClientLease{MAC: mac1, IP: "192.168.1.5"})
	r.Upsert(types.ClientLease{MAC: "aa:aa:aa:aa:aa:aa", IP: "192.168.1.6"})
	r.SetAllowed(mac1, true)

	for i := 10; i < 15; i++ {
		ip := fmt.Sprintf("192.168.1.%d", i)
		res, stored := r.Upsert(types.ClientLease{MAC: mac1, IP: ip})
		if res != Changed {
			t.Fatalf("upsert %s: got %v", ip, res)
		}
		if !stored.Allowed {
			t.Fatalf("upsert %s did not carry the allowed flag", ip)
		}
		list := r.List()
		if len(list) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(list))
		}
		if last := list[len(list)-1]; last.MAC != mac1 || last.IP != ip || !last.Allowed {
			t.Fatalf("most recent entry not last: %+v", list)
		}
	}
}

func TestAllowedAndClear(t *testing.T) {
	r := NewRegistry()
	r.Upsert(types.ClientLease{MAC: mac1, IP: "192.168.1.5"})
	r.Upsert(types.ClientLease{MAC: "aa:aa:aa:aa:aa:aa", IP: "192.168.1.6"})

	if r.SetAllowed("bb:bb:bb:bb:bb:bb", true) {
		t.Fatalf("SetAllowed on unknown mac reported success")
	}
	r.SetAllowed("aa:aa:aa:aa:aa:aa", true)
	if got := r.Allowed(); len(got) != 1 || got[0] != "aa:aa:aa:aa:aa:aa" {
		t.Fatalf("Allowed() = %v", got)
	}

	list := r.List()
	list[0].IP = "mutated"
	if c := r.List()[0]; c.IP != "192.168.1.5" {
		t.Fatalf("List must return a copy")
	}

	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry after Clear")
	}
}
