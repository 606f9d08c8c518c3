// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package tether

import (
	"testing"

	"github.com/szym/barnacle/pkg/helper/helpertest"
	"github.com/szym/barnacle/pkg/netstate"
)

func newIdle(t *testing.T, name string) *Orchestrator {
	t.Helper()
	o, err := New(Options{
		Name:        name,
		Provisioner: &fakeProvisioner{},
		Platform:    &fakePlatform{snap: netstate.Snapshot{Radio: netstate.RadioDisabled, Uplink: true}},
		Launcher:    &helpertest.Launcher{},
	})
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := newIdle(t, "wlan-b")
	b := newIdle(t, "wlan-a")

	if err := r.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(b); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(newIdle(t, "wlan-a")); err == nil {
		t.Fatalf("expected duplicate name to be rejected")
	}

	if got, ok := r.Lookup("wlan-b"); !ok || got != a {
		t.Fatalf("lookup returned the wrong orchestrator")
	}
	if names := r.Names(); len(names) != 2 || names[0] != "wlan-a" || names[1] != "wlan-b" {
		t.Fatalf("unexpected names %v", names)
	}

	r.Unregister("wlan-a")
	if _, ok := r.Lookup("wlan-a"); ok || r.Len() != 1 {
		t.Fatalf("unregister did not remove the orchestrator")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{Name: "x"}); err == nil {
		t.Fatalf("expected an error without collaborators")
	}
	o := newIdle(t, "")
	if o.Name() == "" || o.Status() == nil {
		t.Fatalf("expected defaults and an initial status")
	}
}
