package orchestrator

import (
	"time"

	"github.com/mattjoyce/mcphub/internal/events"
	"github.com/mattjoyce/mcphub/internal/procmgr"
)

// lifecycle turns manager notifications into metrics and hub events.
type lifecycle struct {
	o *Orchestrator
}

var _ procmgr.Observer = lifecycle{}

func (l lifecycle) StateChanged(server string, from, to procmgr.Status) {
	l.o.collector.StateTransition(server, string(from), string(to))
	l.o.collector.ServersRunning(l.o.countStatus(procmgr.StatusRunning))
	l.o.publish(events.TypeServerState, server, map[string]string{"from": string(from), "to": string(to)})
}

func (l lifecycle) Started(server string, pid int) {
	l.o.counters.serverStarted()
	l.o.publish(events.TypeServerStarted, server, map[string]int{"pid": pid})
}

func (l lifecycle) Stopped(server string) {
	l.o.publish(events.TypeServerStopped, server, nil)
}

func (l lifecycle) Failed(server string, err error) {
	l.o.publish(events.TypeServerFailed, server, map[string]string{"error": err.Error()})
}

func (l lifecycle) RestartScheduled(server string, attempt int, delay time.Duration) {
	l.o.counters.restarted()
	l.o.collector.RestartScheduled(server, delay)
	l.o.publish(events.TypeRestartScheduled, server, map[string]any{
		"attempt":  attempt,
		"delay_ms": delay.Milliseconds(),
	})
}
