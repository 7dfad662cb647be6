package mission

import "fmt"

// InvalidTransitionError rejects a command that the current status does not
// allow. The mission is unchanged.
type InvalidTransitionError struct {
	From      Status
	Attempted Command
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s from %s", e.Attempted, e.From)
}

// Failure reasons recorded on FAILED missions.
const (
	ReasonBatteryExhausted = "battery_exhausted"
	ReasonDroneLost        = "drone_lost"
	ReasonPersistence      = "persistence"
	ReasonPanic            = "panic"
)

// SimulationFailure is the cause of a simulator-driven fail transition. It is
// recorded on the mission, never returned to a command caller.
type SimulationFailure struct {
	Reason string
	Err    error
}

func (e *SimulationFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("simulation failure (%s): %v", e.Reason, e.Err)
	}
	return "simulation failure: " + e.Reason
}

func (e *SimulationFailure) Unwrap() error { return e.Err }
