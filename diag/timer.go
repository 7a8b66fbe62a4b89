package diag

import "time"

// TimerRecord counts logical timer expirations for one procedure
// instance. Time advances only through message timestamps: every
// retransmission of the initiating message observed while the instance
// is pending counts as one expiration of the underlying NAS timer,
// provided it falls within Window of the previous transmission. A wider
// gap means the procedure went quiet and the count starts over.
type TimerRecord struct {
	Deadline    time.Duration // nominal NAS timer (T3410, T3460, ...), informational
	Window      time.Duration // max gap between retransmissions to count as consecutive
	Threshold   int           // consecutive expirations before TIMEOUT
	Expirations int
	LastArmed   time.Time
}

// Arm records the transmission the next expiration is measured against.
func (t *TimerRecord) Arm(at time.Time) {
	t.LastArmed = at
}

// Observe resets the expiration count. Called for any qualifying
// response that advances the owning procedure.
func (t *TimerRecord) Observe() {
	t.Expirations = 0
}

// Expire registers a retransmission observed at the given time and
// reports whether the consecutive-expiration threshold is reached.
// The caller re-arms with the retransmission's own timestamp afterwards.
func (t *TimerRecord) Expire(at time.Time) bool {
	t.Expirations = t.next(at)
	return t.Expirations >= t.Threshold
}

// Peek reports whether a retransmission at the given time would reach
// the threshold, without mutating the record. Used when the same message
// also matches a higher-precedence rule.
func (t *TimerRecord) Peek(at time.Time) bool {
	return t.next(at) >= t.Threshold
}

func (t *TimerRecord) next(at time.Time) int {
	if t.LastArmed.IsZero() {
		return t.Expirations
	}
	gap := at.Sub(t.LastArmed)
	if gap >= 0 && gap <= t.Window {
		return t.Expirations + 1
	}
	return 0
}
