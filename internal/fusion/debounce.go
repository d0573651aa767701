package fusion

import (
	"time"
)

// Debouncer converts the raw per-reading presence signal into a stable
// boolean state. A transition requires a full ring of unanimous signals; an
// independent timeout forces ABSENT when no corroborating "present" signal
// arrives, guarding against a sensor that stops transmitting mid-detection.
type Debouncer struct {
	ring    *History[bool]
	timeout time.Duration

	present           bool
	lastTransition    time.Time
	lastPresentSignal time.Time
}

// NewDebouncer creates a Debouncer with the given consensus window size and
// inactivity timeout.
func NewDebouncer(window int, timeout time.Duration) *Debouncer {
	return &Debouncer{
		ring:    NewHistory[bool](window),
		timeout: timeout,
	}
}

// Observe feeds one raw presence signal tagged with its arrival time and
// returns the debounced state plus whether this signal caused a transition.
//
// Re-affirming the current state produces no transition; a matching "present"
// signal only refreshes the corroboration clock.
func (d *Debouncer) Observe(raw bool, at time.Time) (present, changed bool) {
	d.ring.Push(raw)
	if raw {
		d.lastPresentSignal = at
	}

	if d.ring.Len() == d.ring.Cap() {
		if v, unanimous := d.consensus(); unanimous && v != d.present {
			d.present = v
			d.lastTransition = at
			if v {
				d.lastPresentSignal = at
			}
			return d.present, true
		}
	}

	// timeout rule: even without ring consensus, silence forces ABSENT
	if d.expire(at) {
		return d.present, true
	}

	return d.present, false
}

// Expire applies the inactivity timeout at the given instant and reports
// whether it forced a transition to ABSENT. It is called by the store's
// sweeper so a sensor that goes quiet still drops presence.
func (d *Debouncer) Expire(now time.Time) bool {
	return d.expire(now)
}

func (d *Debouncer) expire(now time.Time) bool {
	if !d.present {
		return false
	}
	if now.Sub(d.lastPresentSignal) <= d.timeout {
		return false
	}
	d.present = false
	d.lastTransition = now
	return true
}

// Present returns the debounced presence state.
func (d *Debouncer) Present() bool {
	return d.present
}

// LastTransition returns the time of the most recent state change.
func (d *Debouncer) LastTransition() time.Time {
	return d.lastTransition
}

// consensus reports the unanimous ring value, if any.
func (d *Debouncer) consensus() (value, unanimous bool) {
	values := d.ring.Values()
	for _, v := range values[1:] {
		if v != values[0] {
			return false, false
		}
	}
	return values[0], true
}
