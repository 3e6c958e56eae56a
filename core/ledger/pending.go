package ledger

import "dposchain/core/events"

// pendingEvents holds handler events until the surrounding block or
// transaction commits. It is guarded by Ledger.mu.
type pendingEvents struct {
	events []events.Event
}

// Emit implements events.Emitter.
func (p *pendingEvents) Emit(e events.Event) {
	if e == nil {
		return
	}
	p.events = append(p.events, e)
}

// flush forwards the held events to out in emission order.
func (p *pendingEvents) flush(out events.Emitter) {
	for _, e := range p.events {
		out.Emit(e)
	}
	p.discard()
}

func (p *pendingEvents) discard() {
	clear(p.events)
	p.events = p.events[:0]
}

// settle publishes held events when err is nil and drops them otherwise.
func (l *Ledger) settle(err error) {
	if err != nil {
		l.pending.discard()
		return
	}
	l.pending.flush(l.emitter)
}
