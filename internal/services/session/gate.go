package session

import "ppemonitor/internal/models"

// GateAction tells the session what a verdict requires.
type GateAction int

const (
	// ActionNone: verdict arrived outside Armed and must be discarded.
	ActionNone GateAction = iota
	// ActionNeutral: no subject in frame; stay armed, no alert, no
	// violation record.
	ActionNeutral
	// ActionContinue: compliant verdict; stay armed.
	ActionContinue
	// ActionObserve: non-compliant but below the confirmation window;
	// stay armed, record the verdict.
	ActionObserve
	// ActionPause: violation confirmed; scheduler stops, alert fires,
	// explicit resume required.
	ActionPause
)

// Gate is the compliance state machine. It is not safe for concurrent use;
// the owning session serializes all transitions behind its mutex.
type Gate struct {
	state         models.GateState
	confirmFrames int
	violations    int // consecutive non-compliant verdicts
}

// NewGate creates a Gate in Idle. confirmFrames is the number of
// consecutive violations required before pausing; values below 1 pause on
// the first violation.
func NewGate(confirmFrames int) *Gate {
	if confirmFrames < 1 {
		confirmFrames = 1
	}
	return &Gate{state: models.GateIdle, confirmFrames: confirmFrames}
}

func (g *Gate) State() models.GateState {
	return g.state
}

// Arm transitions Idle to Armed.
func (g *Gate) Arm() bool {
	if g.state != models.GateIdle {
		return false
	}
	g.state = models.GateArmed
	g.violations = 0
	return true
}

// OnVerdict applies one frame's verdict and returns the required action.
func (g *Gate) OnVerdict(compliant, hasSubject bool) GateAction {
	if g.state != models.GateArmed {
		return ActionNone
	}

	if !hasSubject {
		// An empty scene must not raise an alert for an absent worker.
		return ActionNeutral
	}

	if compliant {
		g.violations = 0
		return ActionContinue
	}

	g.violations++
	if g.violations < g.confirmFrames {
		return ActionObserve
	}

	g.state = models.GatePaused
	return ActionPause
}

// Resume transitions Paused back to Armed. Latency history survives; the
// session re-arms with its current adaptive interval.
func (g *Gate) Resume() bool {
	if g.state != models.GatePaused {
		return false
	}
	g.state = models.GateArmed
	g.violations = 0
	return true
}

// Stop returns the gate to Idle from any state.
func (g *Gate) Stop() {
	g.state = models.GateIdle
	g.violations = 0
}
