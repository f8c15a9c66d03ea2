// Package eventbus implements the Event Bus: a single in-process typed
// publisher with subscriber adapters, replacing the legacy dual-sink
// (generic emitter + typed registry) pattern. The JSON envelope used by any HTTP/SSE transport is an adapter concern
// layered on top of Event, not part of the bus itself.
package eventbus

import (
	"sync"
	"time"
)

// Kind identifies an event type.
type Kind string

const (
	SkillInstallStarted   Kind = "skills:install_started"
	SkillInstallProgress  Kind = "skills:install_progress"
	SkillInstallFailed    Kind = "skills:install_failed"
	SkillInstalled        Kind = "skills:installed"
	SkillUninstalled      Kind = "skills:uninstalled"
	SkillQuarantined      Kind = "skills:quarantined"
	SkillUntrustedFound   Kind = "skills:untrusted_detected"
	SkillApproved         Kind = "skills:approved"
	SkillAnalyzed         Kind = "skills:analyzed"
	SkillAnalysisFailed   Kind = "skills:analysis_failed"

	ProcessBrokerStarted   Kind = "process:broker_started"
	ProcessBrokerStopped   Kind = "process:broker_stopped"
	ProcessBrokerRestarted Kind = "process:broker_restarted"
	ProcessGatewayStarted  Kind = "process:gateway_started"
	ProcessGatewayStopped  Kind = "process:gateway_stopped"
	ProcessDaemonStarted   Kind = "process:daemon_started"
	ProcessDaemonStopped   Kind = "process:daemon_stopped"

	SecurityStatus   Kind = "security:status"
	SecurityWarning  Kind = "security:warning"
	SecurityCritical Kind = "security:critical"
	SecurityLocked   Kind = "security:locked"

	AlertsAcknowledged Kind = "alerts:acknowledged"

	Heartbeat Kind = "heartbeat"
)

// Event is the envelope every subscriber receives. Timestamp is stamped
// by the Bus at emit time; ProfileID is optional.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	ProfileID string
	Data      any
}

// Subscriber receives events in FIFO order relative to other events
// delivered to the same subscriber.
type Subscriber func(Event)

// Unsubscribe detaches a previously registered subscriber. Safe to call
// more than once.
type Unsubscribe func()

// Bus is the process-wide typed publisher. The zero value is not usable;
// construct with New.
type Bus struct {
	mu   sync.Mutex
	subs map[int]Subscriber
	next int
	// now is overridable for deterministic tests.
	now func() time.Time
}

func New() *Bus {
	return &Bus{subs: make(map[int]Subscriber), now: time.Now}
}

// Subscribe registers sub and returns a handle to unsubscribe it.
func (b *Bus) Subscribe(sub Subscriber) Unsubscribe {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Emit stamps the event with the current time and synchronously delivers
// it to every current subscriber, in subscription order. Subscribers
// registered or removed concurrently with Emit are not guaranteed to see
// or miss this particular event, but Emit never races on b.subs: it
// snapshots recipients under lock before delivering.
func (b *Bus) Emit(kind Kind, profileID string, data any) {
	b.mu.Lock()
	recipients := make([]Subscriber, 0, len(b.subs))
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sortInts(ids)
	for _, id := range ids {
		recipients = append(recipients, b.subs[id])
	}
	b.mu.Unlock()

	ev := Event{Kind: kind, Timestamp: b.now(), ProfileID: profileID, Data: data}
	for _, sub := range recipients {
		sub(ev)
	}
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
