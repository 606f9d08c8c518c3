// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

// Package tether implements the tethering orchestrator: the state machine that
// supervises the helper process and everything attached to it.
//
// All state is owned by a single event loop fed by a client-go delaying
// queue. Output readers, the network reactor and API callers only enqueue.
package tether

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"k8s.io/client-go/util/workqueue"

	"github.com/szym/barnacle/pkg/clients"
	"github.com/szym/barnacle/pkg/constants"
	"github.com/szym/barnacle/pkg/ctrlsock"
	"github.com/szym/barnacle/pkg/helper"
	"github.com/szym/barnacle/pkg/log"
	"github.com/szym/barnacle/pkg/netstate"
	"github.com/szym/barnacle/pkg/notify"
	"github.com/szym/barnacle/pkg/provision"
	"github.com/szym/barnacle/pkg/sessionlog"
	"github.com/szym/barnacle/pkg/traffic"
	"github.com/szym/barnacle/pkg/types"
)

// TrafficReader samples interface counters
type TrafficReader interface {
	Read(prefix string) types.TrafficSample
}

// Options wires an orchestrator to its collaborators
type Options struct {
	Name string
	// Filtering asks the filtering daemon to enable kernel side filtering
	Filtering bool
	// SkipUplinkWait starts the helper without a detected uplink
	SkipUplinkWait bool
	// AutoAssociate re-beacons every ReassocInterval until a client connects
	AutoAssociate   bool
	StopTimeout     time.Duration
	ReassocInterval time.Duration

	Provisioner provision.Provisioner
	Platform    netstate.Platform
	Launcher    helper.Launcher
	Notifier    notify.Notifier
	Traffic     TrafficReader
	// ControlSocket builds the client for the filtering daemon; nil means ctrlsock.New
	ControlSocket func(path string) *ctrlsock.Client

	Now func() time.Time
}

// Orchestrator is one tethering instance
type Orchestrator struct {
	name      string
	opts      Options
	notifier  notify.Notifier
	queue     workqueue.DelayingInterface
	statsGen  atomic.Uint64
	assocGen  atomic.Uint64
	status    atomic.Pointer[types.Status]
	processed atomic.Uint64

	// owned by the event loop
	state     types.State
	proc      *helper.Handle
	lanIface  string
	lanMAC    string
	ctrl      *ctrlsock.Client
	filtering bool
	clients   *clients.Registry
	stats     traffic.Stats
	log       *sessionlog.Log
}

// New creates a stopped orchestrator. Run must be called to process requests.
func New(opts Options) (*Orchestrator, error) {
	if opts.Provisioner == nil || opts.Platform == nil || opts.Launcher == nil {
		return nil, fmt.Errorf("provisioner, platform and launcher are required")
	}
	if opts.Name == "" {
		opts.Name = constants.DefaultName
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = constants.DefaultStopTimeout
	}
	if opts.ReassocInterval <= 0 {
		opts.ReassocInterval = constants.ReassocInterval
	}
	if opts.Traffic == nil {
		opts.Traffic = traffic.NewReader()
	}
	if opts.ControlSocket == nil {
		opts.ControlSocket = ctrlsock.New
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	o := &Orchestrator{
		name:     opts.Name,
		opts:     opts,
		notifier: opts.Notifier,
		queue:    workqueue.NewDelayingQueueWithConfig(workqueue.DelayingQueueConfig{Name: opts.Name}),
		clients:  clients.NewRegistry(),
		log:      sessionlog.New(constants.SessionLogCapacity),
	}
	if o.notifier == nil {
		o.notifier = notify.NewBus(opts.Name)
	}
	if path := opts.Provisioner.ControlSocketPath(); path != "" {
		o.ctrl = opts.ControlSocket(path)
	}
	o.publish()
	return o, nil
}

func (o *Orchestrator) Name() string {
	return o.name
}

// Status returns the latest published snapshot
func (o *Orchestrator) Status() *types.Status {
	return o.status.Load()
}

func (o *Orchestrator) State() types.State {
	return o.Status().State
}

// Processed counts the events handled so far
func (o *Orchestrator) Processed() uint64 {
	return o.processed.Load()
}

func (o *Orchestrator) enqueue(e *event) {
	o.queue.Add(e)
}

// RequestStart starts tethering when stopped
func (o *Orchestrator) RequestStart() {
	o.enqueue(&event{kind: eventStart})
}

// RequestStop tears everything down
func (o *Orchestrator) RequestStop() {
	o.enqueue(&event{kind: eventStop})
}

// RequestToggle starts when stopped and stops otherwise
func (o *Orchestrator) RequestToggle() {
	o.enqueue(&event{kind: eventToggle})
}

// RequestAssociate asks the helper to beacon again. It supersedes a pending
// automatic re-association.
func (o *Orchestrator) RequestAssociate() {
	o.enqueue(&event{kind: eventAssociate, gen: o.assocGen.Add(1)})
}

func (o *Orchestrator) scheduleAssociate(delay time.Duration) {
	o.queue.AddAfter(&event{kind: eventAssociate, gen: o.assocGen.Add(1)}, delay)
}

// RequestFilterChange allows or denies one client
func (o *Orchestrator) RequestFilterChange(mac string, allowed bool) {
	o.enqueue(&event{kind: eventFilter, mac: mac, allowed: allowed})
}

// RequestDmz forwards the preserved ports to ip
func (o *Orchestrator) RequestDmz(ip string) {
	o.enqueue(&event{kind: eventDmz, ip: ip})
}

// RequestStatsRefresh polls the traffic counters after delay. Any poll still
// pending is cancelled.
func (o *Orchestrator) RequestStatsRefresh(delay time.Duration) {
	e := &event{kind: eventStats, gen: o.statsGen.Add(1)}
	if delay <= 0 {
		o.enqueue(e)
		return
	}
	o.queue.AddAfter(e, delay)
}

// NetworkChanged feeds a new network snapshot into the state machine
func (o *Orchestrator) NetworkChanged(s netstate.Snapshot) {
	o.enqueue(&event{kind: eventNetwork, snapshot: s})
}

func (o *Orchestrator) deliverOutput(out helper.Output) {
	o.enqueue(&event{kind: eventOutput, output: out})
}

// Run processes events until ctx is done, then stops the helper
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Logger.Infof("Starting tether orchestrator %s", o.name)

	go func() {
		<-ctx.Done()
		log.Logger.Debugf("Context cancelled, shutting down queue of %s", o.name)
		o.queue.ShutDown()
	}()

	for o.processNextEvent() {
	}

	if o.state != types.StateStopped {
		o.stopProcess()
		o.log.Append(false, "stopped")
		o.enterStopped()
		o.publish()
		o.notifier.OnStatusChanged()
	}
	log.Logger.Infof("Tether orchestrator %s stopped", o.name)
	return nil
}

func (o *Orchestrator) processNextEvent() bool {
	obj, shutdown := o.queue.Get()
	if shutdown {
		return false
	}
	defer o.queue.Done(obj)

	e, ok := obj.(*event)
	if !ok {
		log.Logger.Errorf("Unexpected type in queue: %s", reflect.TypeOf(obj))
		return true
	}

	o.handle(e)
	o.publish()
	o.notifier.OnStatusChanged()
	o.processed.Add(1)
	return true
}

// publish stores an immutable snapshot for readers outside the loop
func (o *Orchestrator) publish() {
	s := &types.Status{
		Name:      o.name,
		State:     o.state,
		Filtering: o.filtering,
		Clients:   o.clients.List(),
		Traffic:   o.stats.Status(),
		Log:       o.log.Lines(),
		UpdatedAt: o.opts.Now(),
	}
	if o.state == types.StateRunning {
		s.LanIface = o.lanIface
		s.LanMAC = o.lanMAC
	}
	o.status.Store(s)
}
