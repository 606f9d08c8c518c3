// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package tether

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/szym/barnacle/pkg/helper"
	"github.com/szym/barnacle/pkg/helper/helpertest"
	"github.com/szym/barnacle/pkg/netstate"
	"github.com/szym/barnacle/pkg/types"
)

type fakeProvisioner struct {
	mutex       sync.Mutex
	binariesErr error
	wanErr      error
	configErr   error
	ctrlPath    string
	calls       []string
}

func (p *fakeProvisioner) record(call string, err error) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.calls = append(p.calls, call)
	return err
}

func (p *fakeProvisioner) PrepareBinaries() error  { return p.record("binaries", p.binariesErr) }
func (p *fakeProvisioner) FindWanInterface() error { return p.record("wan", p.wanErr) }
func (p *fakeProvisioner) PrepareConfig() error    { return p.record("config", p.configErr) }
func (p *fakeProvisioner) ControlSocketPath() string {
	return p.ctrlPath
}

func (p *fakeProvisioner) HelperCommand() helper.Command {
	return helper.Command{Path: "/data/barnacle/run", Args: []string{"/data/barnacle/brncl.ini"}}
}

func (p *fakeProvisioner) Calls() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]string(nil), p.calls...)
}

type fakePlatform struct {
	mutex    sync.Mutex
	snap     netstate.Snapshot
	err      error
	disabled int
}

func (f *fakePlatform) Snapshot() (netstate.Snapshot, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.snap, f.err
}

func (f *fakePlatform) DisableRadio() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.disabled++
	return nil
}

func (f *fakePlatform) Subscribe(ctx context.Context, notify func()) error { return nil }

func (f *fakePlatform) Capabilities() netstate.Capabilities {
	return netstate.Capabilities{RadioControl: true}
}

func (f *fakePlatform) Disabled() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.disabled
}

type recordingNotifier struct {
	mutex   sync.Mutex
	started int
	stopped int
	added   []types.ClientLease
	failed  []types.FailureReason
	toasts  []string

	// status is read on every change to record the state being announced
	status    func() *types.Status
	changes   int
	lastState types.State
}

func (n *recordingNotifier) OnStarted() {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.started++
}

func (n *recordingNotifier) OnStopped() {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.stopped++
}

func (n *recordingNotifier) OnClientAdded(lease types.ClientLease) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.added = append(n.added, lease)
}

func (n *recordingNotifier) OnFailed(reason types.FailureReason) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.failed = append(n.failed, reason)
}

func (n *recordingNotifier) OnStatusChanged() {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.changes++
	if n.status != nil {
		n.lastState = n.status().State
	}
}

func (n *recordingNotifier) LastAnnounced() (changes int, state types.State) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.changes, n.lastState
}

func (n *recordingNotifier) Toast(message string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.toasts = append(n.toasts, message)
}

func (n *recordingNotifier) Failed() []types.FailureReason {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return append([]types.FailureReason(nil), n.failed...)
}

func (n *recordingNotifier) Added() []types.ClientLease {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return append([]types.ClientLease(nil), n.added...)
}

func (n *recordingNotifier) Counts() (started, stopped int) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.started, n.stopped
}

func (n *recordingNotifier) Toasts() []string {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return append([]string(nil), n.toasts...)
}

type fakeTraffic struct {
	mutex  sync.Mutex
	sample types.TrafficSample
}

func (f *fakeTraffic) Read(prefix string) types.TrafficSample {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if prefix == "" {
		return types.TrafficSample{}
	}
	return f.sample
}

func (f *fakeTraffic) Set(s types.TrafficSample) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.sample = s
}

type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

// ctrlListener accepts control socket connections and decodes their frames
type ctrlListener struct {
	path     string
	mutex    sync.Mutex
	messages []string
	conns    []net.Conn
	accepted int
}

func newCtrlListener(t *testing.T) *ctrlListener {
	t.Helper()
	c := &ctrlListener{path: filepath.Join(t.TempDir(), "nat_ctrl")}
	l, err := net.Listen("unix", c.path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go c.serve(conn)
		}
	}()
	return c
}

func (c *ctrlListener) serve(conn net.Conn) {
	defer conn.Close()
	c.mutex.Lock()
	c.conns = append(c.conns, conn)
	c.accepted++
	c.mutex.Unlock()
	for {
		var size [1]byte
		if _, err := io.ReadFull(conn, size[:]); err != nil {
			return
		}
		msg := make([]byte, size[0])
		if _, err := io.ReadFull(conn, msg); err != nil {
			return
		}
		c.mutex.Lock()
		c.messages = append(c.messages, string(msg))
		c.mutex.Unlock()
	}
}

// Drop closes every accepted connection, as a restarting daemon would
func (c *ctrlListener) Drop() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, conn := range c.conns {
		conn.Close()
	}
	c.conns = nil
}

// Accepted counts the connections accepted so far
func (c *ctrlListener) Accepted() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.accepted
}

func (c *ctrlListener) Messages() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]string(nil), c.messages...)
}

type harness struct {
	t         *testing.T
	o         *Orchestrator
	opts      Options
	prov      *fakeProvisioner
	platform  *fakePlatform
	launcher  *helpertest.Launcher
	notifier  *recordingNotifier
	traffic   *fakeTraffic
	clock     *fakeClock
	cancel    context.CancelFunc
	runResult chan error
	stopOnce  sync.Once
}

// newHarness builds an orchestrator whose network is ready: radio off, uplink present
func newHarness(t *testing.T, mutate func(h *harness)) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		prov:     &fakeProvisioner{},
		platform: &fakePlatform{snap: netstate.Snapshot{Radio: netstate.RadioDisabled, Uplink: true, UplinkIface: "rmnet0"}},
		launcher: &helpertest.Launcher{},
		notifier: &recordingNotifier{},
		traffic:  &fakeTraffic{},
		clock:    &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.opts = Options{
		Name:            "test",
		StopTimeout:     time.Second,
		ReassocInterval: time.Hour,
		Provisioner:     h.prov,
		Platform:        h.platform,
		Launcher:        h.launcher,
		Notifier:        h.notifier,
		Traffic:         h.traffic,
		Now:             h.clock.Now,
	}
	if mutate != nil {
		mutate(h)
	}

	o, err := New(h.opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.o = o
	h.notifier.mutex.Lock()
	h.notifier.status = o.Status
	h.notifier.mutex.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.runResult = make(chan error, 1)
	go func() { h.runResult <- o.Run(ctx) }()
	t.Cleanup(h.shutdown)
	return h
}

func (h *harness) shutdown() {
	h.stopOnce.Do(func() {
		h.cancel()
		select {
		case <-h.runResult:
		case <-time.After(5 * time.Second):
			h.t.Errorf("orchestrator did not shut down")
		}
	})
}

func (h *harness) waitFor(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s; status: %+v", what, h.o.Status())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) waitState(state types.State) {
	h.t.Helper()
	h.waitFor("state "+state.String(), func() bool { return h.o.State() == state })
}

// waitProcessed waits until the loop has handled n more events than before
func (h *harness) waitProcessed(before uint64, n uint64) {
	h.t.Helper()
	h.waitFor("events processed", func() bool { return h.o.Processed() >= before+n })
}

func (h *harness) say(p *helpertest.Process, line string) {
	h.t.Helper()
	if err := p.WriteStdout(line); err != nil {
		h.t.Fatalf("write stdout: %v", err)
	}
}

func (h *harness) complain(p *helpertest.Process, line string) {
	h.t.Helper()
	if err := p.WriteStderr(line); err != nil {
		h.t.Fatalf("write stderr: %v", err)
	}
}

func (h *harness) logContains(text string) bool {
	for _, l := range h.o.Status().Log {
		if strings.Contains(l.Text, text) {
			return true
		}
	}
	return false
}

// startRunning drives the orchestrator from Stopped to Running
func (h *harness) startRunning() *helpertest.Process {
	h.t.Helper()
	h.o.RequestStart()
	h.waitFor("helper launch", func() bool { return h.launcher.Last() != nil && h.o.State() == types.StateStarting })
	p := h.launcher.Last()
	h.say(p, "WIFI: OK wlan0 AA:BB:CC:DD:EE:FF")
	h.waitState(types.StateRunning)
	return p
}

func countLines(lines []string, want string) int {
	n := 0
	for _, l := range lines {
		if l == want {
			n++
		}
	}
	return n
}
