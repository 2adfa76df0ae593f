package engine

import "time"

// SignalKind classifies the engine's verdict for one tick.
type SignalKind string

const (
	// SignalWait asks the host to re-invoke Tick later; the engine keeps
	// its episode state for the stream.
	SignalWait SignalKind = "wait"
	// SignalStop ends the conversation episode.
	SignalStop SignalKind = "stop"
	// SignalFailure reports a failed turn. The episode survives so a
	// later tick can retry with the same context.
	SignalFailure SignalKind = "failure"
)

// Signal is what one Tick hands back to the host scheduler.
type Signal struct {
	Kind SignalKind

	// Delay hints when the host should tick again; zero means the next
	// regular tick. Only meaningful for SignalWait.
	Delay time.Duration

	// Reason and Err describe a SignalFailure.
	Reason string
	Err    error
}

// Wait yields control back to the host until the next tick.
func Wait(delay time.Duration) Signal {
	return Signal{Kind: SignalWait, Delay: delay}
}

// Stop ends the current episode.
func Stop() Signal {
	return Signal{Kind: SignalStop}
}

// Failure reports a failed turn without ending the episode.
func Failure(reason string, err error) Signal {
	return Signal{Kind: SignalFailure, Reason: reason, Err: err}
}
