package domain

import (
	pkgerrors "github.com/Hwoarang91/afrodita-sub000/pkg/errors"
)

// allowedTransitions is the full edge set of the session state machine.
// invalid and revoked are terminal: no edge leads out of them.
var allowedTransitions = map[SessionStatus][]SessionStatus{
	StatusInitializing: {StatusActive, StatusInvalid},
	StatusActive:       {StatusInvalid, StatusRevoked},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to SessionStatus) bool {
	for _, target := range allowedTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// AllowedTargets returns the legal targets reachable from the given status.
func AllowedTargets(from SessionStatus) []SessionStatus {
	targets := allowedTransitions[from]
	out := make([]SessionStatus, len(targets))
	copy(out, targets)
	return out
}

// AssertTransition returns an IllegalStateTransitionError naming the record,
// the offending edge and the legal targets when from -> to is not allowed.
func AssertTransition(from, to SessionStatus, contextID string) error {
	if CanTransition(from, to) {
		return nil
	}
	targets := allowedTransitions[from]
	allowed := make([]string, len(targets))
	for i, t := range targets {
		allowed[i] = string(t)
	}
	return pkgerrors.NewIllegalStateTransitionError(contextID, string(from), string(to), allowed)
}

// IsTerminal reports whether the status has no outgoing edges.
func IsTerminal(status SessionStatus) bool {
	return status == StatusInvalid || status == StatusRevoked
}
