// Package metrics is the optional Prometheus collector SPEC_FULL §1a
// describes: a hook that consumes the same lock-protocol trace events as
// internal/trace, off by default, registered by the embedder rather than
// auto-registered against the global Prometheus registry the way
// cuemby-warren/pkg/metrics registers its package-level vars in an
// init(). A storage-engine library linked into many processes cannot
// claim the default registry for itself the way an application does, so
// this package exposes one Collector per ECS instance and a Register
// method the caller invokes against whichever prometheus.Registerer it
// already uses.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hexlayer/tecs/internal/lockproto"
)

// Collector counts lock-protocol transitions by event name. It
// implements lockproto.Tracer so it can be attached directly as (or
// fanned out alongside) a RWCommitMutex's tracer.
type Collector struct {
	transitions *prometheus.CounterVec
	waits       *prometheus.CounterVec
}

// NewCollector constructs a Collector. instance labels every metric so
// multiple ECS instances in one process can share a registry without
// colliding (grounded on cuemby-warren's label-carrying vecs, e.g.
// NodesTotal's "role"/"status" labels).
func NewCollector(instance string) *Collector {
	constLabels := prometheus.Labels{"instance": instance}
	return &Collector{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "tecs_lock_transitions_total",
				Help:        "Total number of lock-protocol transitions by event.",
				ConstLabels: constLabels,
			},
			[]string{"event"},
		),
		waits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "tecs_lock_waits_total",
				Help:        "Total number of times a lock acquisition had to wait, by event.",
				ConstLabels: constLabels,
			},
			[]string{"event"},
		),
	}
}

// Register registers the collector's metrics against reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	if err := reg.Register(c.transitions); err != nil {
		return err
	}
	if err := reg.Register(c.waits); err != nil {
		return err
	}
	return nil
}

var eventNames = map[lockproto.Event]string{
	lockproto.EventReadLockWait:   "read_lock_wait",
	lockproto.EventReadLock:       "read_lock",
	lockproto.EventReadUnlock:     "read_unlock",
	lockproto.EventWriteLockWait:  "write_lock_wait",
	lockproto.EventWriteLock:      "write_lock",
	lockproto.EventCommitLockWait: "commit_lock_wait",
	lockproto.EventCommitLock:     "commit_lock",
	lockproto.EventCommitUnlock:   "commit_unlock",
	lockproto.EventWriteUnlock:    "write_unlock",
}

// Trace implements lockproto.Tracer.
func (c *Collector) Trace(e lockproto.Event) {
	name, ok := eventNames[e]
	if !ok {
		return
	}
	c.transitions.WithLabelValues(name).Inc()
	switch e {
	case lockproto.EventReadLockWait, lockproto.EventWriteLockWait, lockproto.EventCommitLockWait:
		c.waits.WithLabelValues(name).Inc()
	}
}
