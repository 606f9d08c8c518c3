// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package netstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePlatform struct {
	mutex  sync.Mutex
	snap   Snapshot
	err    error
	notify func()
	events bool
}

func (f *fakePlatform) set(s Snapshot) {
	f.mutex.Lock()
	f.snap = s
	notify := f.notify
	f.mutex.Unlock()
	if notify != nil {
		notify()
	}
}

func (f *fakePlatform) Snapshot() (Snapshot, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.snap, f.err
}

func (f *fakePlatform) DisableRadio() error { return nil }

func (f *fakePlatform) Subscribe(ctx context.Context, notify func()) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.notify = notify
	return nil
}

func (f *fakePlatform) Capabilities() Capabilities {
	return Capabilities{LinkEvents: f.events}
}

type recorder struct {
	mutex sync.Mutex
	snaps []Snapshot
}

func (r *recorder) forward(s Snapshot) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) wait(t *testing.T, n int) []Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mutex.Lock()
		got := append([]Snapshot(nil), r.snaps...)
		r.mutex.Unlock()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d snapshots, got %v", n, got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReactorForwardsChangesOnly(t *testing.T) {
	platform := &fakePlatform{events: true, snap: Snapshot{Radio: RadioEnabled}}
	r := NewReactor(platform, time.Hour)
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, rec.forward) }()

	rec.wait(t, 1)
	// same state again must not be forwarded
	platform.set(Snapshot{Radio: RadioEnabled})
	platform.set(Snapshot{Radio: RadioDisabled, Uplink: true, UplinkIface: "rmnet0"})
	got := rec.wait(t, 2)

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots, got %v", got)
	}
	if got[0].Radio != RadioEnabled || got[1].Radio != RadioDisabled || got[1].UplinkIface != "rmnet0" {
		t.Fatalf("unexpected snapshots %v", got)
	}
}

func TestReactorPollsWithoutLinkEvents(t *testing.T) {
	platform := &fakePlatform{snap: Snapshot{Radio: RadioEnabling}}
	r := NewReactor(platform, 10*time.Millisecond)
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, rec.forward)

	rec.wait(t, 1)
	platform.mutex.Lock()
	platform.snap = Snapshot{Radio: RadioDisabled, Uplink: true}
	platform.mutex.Unlock()

	got := rec.wait(t, 2)
	if got[1].Radio != RadioDisabled || !got[1].Uplink {
		t.Fatalf("unexpected snapshot %v", got[1])
	}
}

func TestReactorSkipsFailedReads(t *testing.T) {
	platform := &fakePlatform{err: errors.New("netlink: operation not permitted")}
	r := NewReactor(platform, time.Hour)
	calls := 0
	r.evaluate(func(Snapshot) { calls++ })
	if calls != 0 {
		t.Fatalf("failed read must not be forwarded")
	}
}

func TestRadioStateActive(t *testing.T) {
	tests := []struct {
		state RadioState
		want  bool
	}{
		{RadioDisabled, false},
		{RadioEnabling, true},
		{RadioEnabled, true},
		{RadioUnknown, false},
	}
	for _, tt := range tests {
		if got := tt.state.Active(); got != tt.want {
			t.Errorf("%s.Active() = %t, want %t", tt.state, got, tt.want)
		}
	}
}

func TestZeroSnapshotIsUnknown(t *testing.T) {
	var s Snapshot
	if s.Radio != RadioUnknown || s.Radio.Active() {
		t.Fatalf("zero snapshot radio is %s", s.Radio)
	}
}
