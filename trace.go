package tecs

import (
	"github.com/hexlayer/tecs/internal/lockproto"
	"github.com/hexlayer/tecs/internal/trace"
)

// fanoutTracer dispatches one lock-protocol event to every registered
// listener. Used so the trace ring buffer and an optional
// tecs/metrics.Collector can both observe the same mutex without either
// knowing about the other.
type fanoutTracer struct {
	listeners []lockproto.Tracer
}

func (f *fanoutTracer) Trace(e lockproto.Event) {
	for _, l := range f.listeners {
		l.Trace(e)
	}
}

// StartTrace enables the performance-trace ring buffer (SPEC_FULL §6).
// It is safe to call multiple times.
func (ecs *ECS) StartTrace() {
	ecs.traceRing.Enable()
}

// StopTrace disables the ring buffer without discarding its contents.
func (ecs *ECS) StopTrace() {
	ecs.traceRing.Disable()
}

// TraceSnapshot returns the events currently buffered by the performance
// trace, oldest first. Returns an empty slice if tracing was never
// started.
func (ecs *ECS) TraceSnapshot() []trace.Entry {
	return ecs.traceRing.Snapshot()
}

// AttachMetrics installs an additional lockproto.Tracer (typically a
// tecs/metrics.Collector) alongside the built-in trace ring on every
// component store and the EMS. Must be called before any transaction
// begins; it is not safe to call concurrently with Begin/BeginDynamic.
func (ecs *ECS) AttachMetrics(t lockproto.Tracer) {
	ecs.fanout.listeners = append(ecs.fanout.listeners, t)
}
