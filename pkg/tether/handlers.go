// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package tether

import (
	"fmt"
	"net"
	"strings"

	"github.com/szym/barnacle/pkg/clients"
	"github.com/szym/barnacle/pkg/constants"
	"github.com/szym/barnacle/pkg/helper"
	"github.com/szym/barnacle/pkg/log"
	"github.com/szym/barnacle/pkg/netstate"
	"github.com/szym/barnacle/pkg/traffic"
	"github.com/szym/barnacle/pkg/types"
)

func (o *Orchestrator) handle(e *event) {
	log.Logger.Debugf("[%s] handling %s event in state %s", o.name, e.kind, o.state)

	switch e.kind {
	case eventStart:
		o.handleStart()
	case eventStop:
		o.handleStop()
	case eventToggle:
		if o.state == types.StateStopped {
			o.handleStart()
		} else {
			o.handleStop()
		}
	case eventAssociate:
		o.handleAssociate(e.gen)
	case eventFilter:
		o.handleFilter(e.mac, e.allowed)
	case eventDmz:
		o.handleDmz(e.ip)
	case eventStats:
		o.handleStats(e.gen)
	case eventNetwork:
		o.handleNetwork(e.snapshot)
	case eventOutput:
		o.handleOutput(e.output)
	default:
		log.Logger.Errorf("[%s] unknown event %s", o.name, e.kind)
	}
}

func (o *Orchestrator) logf(isError bool, format string, args ...interface{}) {
	o.log.Append(isError, fmt.Sprintf(format, args...))
}

func (o *Orchestrator) handleStart() {
	if o.state != types.StateStopped {
		log.Logger.Debugf("[%s] start ignored, already %s", o.name, o.state)
		return
	}
	o.log.Clear()
	o.logf(false, "starting")

	if err := o.opts.Provisioner.PrepareBinaries(); err != nil {
		o.logf(true, "could not prepare the helper: %v", err)
		o.fail(types.FailureOther)
		return
	}

	o.state = types.StateStarting
	// on error the snapshot holds what could be read, an unread radio is unknown
	snap, err := o.opts.Platform.Snapshot()
	if err != nil {
		log.Logger.Warnf("[%s] failed to read network state: %v", o.name, err)
	}
	o.handleNetwork(snap)
}

func (o *Orchestrator) handleStop() {
	if o.state == types.StateStopped {
		return
	}
	o.stopProcess()
	o.logf(false, "stopped")
	o.enterStopped()
}

func (o *Orchestrator) handleNetwork(snap netstate.Snapshot) {
	switch o.state {
	case types.StateStarting:
		switch {
		case snap.Radio.Active():
			o.logf(false, "disabling wifi")
			o.notifier.Toast("Disabling wifi")
			o.disableRadio()
		case snap.Radio != netstate.RadioDisabled:
			log.Logger.Debugf("[%s] radio state %s, waiting", o.name, snap.Radio)
		case o.proc != nil:
			// spawned, waiting for the readiness line
		case !snap.Uplink && !o.opts.SkipUplinkWait:
			o.logf(false, "waiting for mobile data")
		default:
			o.launch()
		}

	case types.StateRunning:
		if snap.Radio.Active() {
			o.logf(true, "wifi was enabled, restarting")
			o.notifier.Toast("Wifi conflicts with tethering, disabling it")
			o.stopProcess()
			o.state = types.StateStarting
			o.disableRadio()
		}
	}
}

func (o *Orchestrator) disableRadio() {
	if err := o.opts.Platform.DisableRadio(); err != nil {
		o.logf(true, "could not disable wifi: %v", err)
	}
}

// launch resolves the uplink, writes the helper config and spawns the helper
func (o *Orchestrator) launch() {
	o.logf(false, "data connection ready")
	p := o.opts.Provisioner

	if err := p.FindWanInterface(); err != nil {
		o.logf(true, "could not find the mobile data interface: %v", err)
		o.fail(types.FailureOther)
		return
	}
	if err := p.PrepareConfig(); err != nil {
		o.logf(true, "could not write the helper config: %v", err)
		o.fail(types.FailureOther)
		return
	}
	o.logf(false, "config written")

	h, err := helper.Start(o.opts.Launcher, p.HelperCommand(), o.deliverOutput)
	if err != nil {
		o.logf(true, "%v: %v", types.ErrProcessSpawn, err)
		o.fail(types.FailureRoot)
		return
	}
	o.proc = h
	log.Logger.Debugf("[%s] helper running as pid %d", o.name, h.Pid())
}

func (o *Orchestrator) handleOutput(out helper.Output) {
	if o.state == types.StateStopped || out.Handle != o.proc {
		log.Logger.Debugf("[%s] dropping stale %s output", o.name, out.Stream)
		return
	}

	if out.Err != nil {
		o.logf(true, "%v: %v", types.ErrReaderFault, out.Err)
		o.crash()
		return
	}

	if out.Stream == helper.Stderr {
		if out.EOF {
			o.logf(true, "%v", types.ErrProcessCrashed)
			o.crash()
			return
		}
		o.logf(true, "%s", out.Line)
		return
	}

	// stdout EOF is ignored, stderr EOF is the authoritative exit signal
	if out.EOF {
		return
	}
	o.handleLine(out.Line)
}

func (o *Orchestrator) handleLine(line string) {
	switch {
	case strings.HasPrefix(line, constants.LineWifiOK):
		o.handleWifiReady(strings.Fields(strings.TrimPrefix(line, constants.LineWifiOK)))
	case strings.HasPrefix(line, constants.LineDhcpAck) && o.state == types.StateRunning:
		o.handleLease(line, strings.Fields(strings.TrimPrefix(line, constants.LineDhcpAck)))
	default:
		o.logf(false, "%s", line)
	}
}

func (o *Orchestrator) handleWifiReady(fields []string) {
	if o.state != types.StateStarting {
		return
	}
	if len(fields) < 1 {
		o.logf(true, "malformed readiness line from helper")
		return
	}
	o.lanIface = fields[0]
	o.lanMAC = ""
	if len(fields) > 1 {
		mac, err := types.CanonicalMAC(fields[1])
		if err != nil {
			log.Logger.Warnf("[%s] helper reported invalid mac %q: %v", o.name, fields[1], err)
			mac = fields[1]
		}
		o.lanMAC = mac
	}

	o.connectControl()

	o.state = types.StateRunning
	o.logf(false, "running")
	o.clients.Clear()
	o.stats.Init(o.opts.Traffic.Read(o.lanIface), o.opts.Now())
	o.notifier.OnStarted()
	o.RequestAssociate()
}

// connectControl connects to the filtering daemon and negotiates filtering
func (o *Orchestrator) connectControl() bool {
	if o.ctrl == nil {
		return false
	}
	if o.ctrl.Connected() {
		return true
	}

	if err := o.ctrl.Connect(); err != nil {
		o.logf(true, "filtering unavailable: %v", err)
		o.filtering = false
		return false
	}
	o.logf(false, "connected to the filtering daemon at %s", o.ctrl.Path())

	if o.opts.Filtering {
		if err := o.ctrl.SetFiltering(true); err != nil {
			o.logf(true, "could not enable filtering: %v", err)
			o.filtering = false
			return false
		}
		o.filtering = true
	}
	return true
}

func (o *Orchestrator) handleLease(line string, fields []string) {
	if len(fields) < 2 {
		o.logf(false, "%s", line)
		return
	}
	mac, err := types.CanonicalMAC(fields[0])
	if err != nil {
		o.logf(true, "ignoring lease with invalid mac %q", fields[0])
		return
	}
	lease := types.ClientLease{MAC: mac, IP: fields[1]}
	if len(fields) > 2 {
		lease.Hostname = fields[2]
	}

	result, stored := o.clients.Upsert(lease)

	// every lease-ack is a chance to bring a dropped control socket back
	if o.ctrl != nil && !o.ctrl.Connected() {
		if o.connectControl() {
			o.replayAllowed()
		}
	}

	if result == clients.Renewed {
		o.logf(false, "renewed %s", stored.DisplayName())
		return
	}
	o.logf(false, "connected %s %s", stored.DisplayName(), stored.IP)
	o.notifier.OnClientAdded(stored)
}

// replayAllowed re-sends the allow list after the filtering daemon reconnected
func (o *Orchestrator) replayAllowed() {
	for _, mac := range o.clients.Allowed() {
		if err := o.ctrl.Allow(mac); err != nil {
			o.logf(true, "filtering error: %v", err)
			o.filtering = false
			return
		}
	}
}

func (o *Orchestrator) handleAssociate(gen uint64) {
	if gen != o.assocGen.Load() {
		log.Logger.Debugf("[%s] dropping superseded associate request", o.name)
		return
	}
	if o.state != types.StateRunning || o.proc == nil {
		return
	}
	if err := o.proc.Tell(constants.StdinReassoc); err != nil {
		log.Logger.Warnf("[%s] %v", o.name, err)
	} else {
		o.notifier.Toast("Beaconing")
	}
	if o.opts.AutoAssociate && o.clients.Len() == 0 {
		o.scheduleAssociate(o.opts.ReassocInterval)
	}
}

func (o *Orchestrator) handleFilter(rawMAC string, allowed bool) {
	if o.state != types.StateRunning {
		return
	}
	mac, err := types.CanonicalMAC(rawMAC)
	if err != nil {
		log.Logger.Warnf("[%s] ignoring filter change for invalid mac %q", o.name, rawMAC)
		return
	}
	if !o.clients.SetAllowed(mac, allowed) {
		log.Logger.Debugf("[%s] filter change for unknown client %s", o.name, mac)
	}
	if o.ctrl == nil || !o.ctrl.Connected() {
		log.Logger.Debugf("[%s] no filtering daemon, dropping filter change for %s", o.name, mac)
		return
	}

	send := o.ctrl.Deny
	if allowed {
		send = o.ctrl.Allow
	}
	if err := send(mac); err != nil {
		o.logf(true, "filtering error: %v", err)
		o.filtering = false
		return
	}
	o.notifier.Toast("Filter updated")
}

func (o *Orchestrator) handleDmz(ip string) {
	if o.state != types.StateRunning {
		return
	}
	if net.ParseIP(ip) == nil {
		log.Logger.Warnf("[%s] ignoring dmz request for invalid address %q", o.name, ip)
		return
	}
	if o.ctrl == nil || !o.ctrl.Connected() {
		log.Logger.Debugf("[%s] no filtering daemon, dropping dmz request", o.name)
		return
	}
	if err := o.ctrl.Dmz(ip); err != nil {
		o.logf(true, "filtering error: %v", err)
		o.filtering = false
		return
	}
	o.notifier.Toast("Forwarding preserved ports to " + ip)
}

func (o *Orchestrator) handleStats(gen uint64) {
	if gen != o.statsGen.Load() {
		return
	}
	if o.state != types.StateRunning || o.lanIface == "" {
		return
	}
	o.stats.Update(o.opts.Traffic.Read(o.lanIface), o.opts.Now())
}

// crash handles the helper going away without a stop request
func (o *Orchestrator) crash() {
	reason := classifyFailure(o.log.Text())
	o.stopProcess()
	o.fail(reason)
}

// classifyFailure scans the session log for known failure signatures
func classifyFailure(text string) types.FailureReason {
	text = strings.ToLower(text)
	switch {
	case strings.Contains(text, "ermission"), strings.Contains(text, "su: not found"):
		return types.FailureRoot
	case strings.Contains(text, "supplicant"):
		return types.FailureSupplicant
	}
	return types.FailureOther
}

func (o *Orchestrator) fail(reason types.FailureReason) {
	log.Logger.Errorf("[%s] failed: %s", o.name, reason)
	o.notifier.OnFailed(reason)
	o.enterStopped()
}

// stopProcess closes the control socket, then terminates and reaps the
// helper. Terminate is the one blocking step of the loop, bounded by the
// stop timeout. The clients and counters of the session are dropped.
func (o *Orchestrator) stopProcess() {
	if o.ctrl != nil {
		if err := o.ctrl.Close(); err != nil {
			log.Logger.Debugf("[%s] failed to close control socket: %v", o.name, err)
		}
	}
	o.filtering = false

	if o.proc != nil {
		if !o.proc.Terminate(o.opts.StopTimeout) {
			o.logf(true, "helper did not exit within %v and was killed", o.opts.StopTimeout)
		}
		o.proc.WaitReaders()
		o.proc = nil
	}

	o.clients.Clear()
	o.stats = traffic.Stats{}
}

func (o *Orchestrator) enterStopped() {
	o.state = types.StateStopped
	o.notifier.OnStopped()
}
