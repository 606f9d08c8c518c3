// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

// Package notify publishes orchestrator side effects to any number of subscribers.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/szym/barnacle/pkg/log"
	"github.com/szym/barnacle/pkg/types"
)

// Notifier receives orchestrator side effects. Implementations must not block.
type Notifier interface {
	OnStarted()
	OnStopped()
	OnClientAdded(lease types.ClientLease)
	OnFailed(reason types.FailureReason)
	OnStatusChanged()
	Toast(message string)
}

// Kind identifies an event published on the bus
type Kind string

const (
	KindStarted       Kind = "started"
	KindStopped       Kind = "stopped"
	KindClientAdded   Kind = "client-added"
	KindFailed        Kind = "failed"
	KindStatusChanged Kind = "status-changed"
	KindToast         Kind = "toast"
)

// Event is what subscribers receive
type Event struct {
	Source  string
	Kind    Kind
	Time    time.Time
	Lease   *types.ClientLease
	Reason  types.FailureReason
	Message string
}

// Bus fans events out to subscribers without ever blocking the publisher
type Bus struct {
	source  string
	mutex   sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Uint64
}

var _ Notifier = (*Bus)(nil)

// NewBus creates a bus whose events carry source as their origin
func NewBus(source string) *Bus {
	return &Bus{source: source, subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mutex.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mutex.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mutex.Lock()
			delete(b.subs, id)
			b.mutex.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Dropped returns how many events were discarded because a subscriber was full
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Bus) publish(e Event) {
	e.Source = b.source
	e.Time = time.Now()

	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			log.Logger.Debugf("subscriber %d is full, dropping %s event", id, e.Kind)
		}
	}
}

func (b *Bus) OnStarted() { b.publish(Event{Kind: KindStarted}) }

func (b *Bus) OnStopped() { b.publish(Event{Kind: KindStopped}) }

func (b *Bus) OnClientAdded(lease types.ClientLease) {
	b.publish(Event{Kind: KindClientAdded, Lease: &lease})
}

func (b *Bus) OnFailed(reason types.FailureReason) {
	b.publish(Event{Kind: KindFailed, Reason: reason})
}

func (b *Bus) OnStatusChanged() { b.publish(Event{Kind: KindStatusChanged}) }

func (b *Bus) Toast(message string) {
	b.publish(Event{Kind: KindToast, Message: message})
}

// LogEvents writes every event to the process logger until the channel closes
func LogEvents(events <-chan Event) {
	for e := range events {
		switch e.Kind {
		case KindStatusChanged:
			log.Logger.Debugf("[%s] status changed", e.Source)
		case KindClientAdded:
			log.Logger.Infof("[%s] client connected: %s", e.Source, e.Lease.String())
		case KindFailed:
			log.Logger.Errorf("[%s] failed: %s", e.Source, e.Reason)
		case KindToast:
			log.Logger.Infof("[%s] %s", e.Source, e.Message)
		default:
			log.Logger.Infof("[%s] %s", e.Source, e.Kind)
		}
	}
}
