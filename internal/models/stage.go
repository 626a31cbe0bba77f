package models

import "fmt"

// ErrTerminalState is returned by ApplyDecision when the project is in a
// state that permits no further gate transitions.
var ErrTerminalState = fmt.Errorf("project is in a terminal state")

// ApplyDecision maps an approved session's aggregate decision onto the
// project's next (stage, status). It is a pure function so the store can
// apply it inside the approval transaction:
//
//	GO      advance one stage, status ACTIVE (GO past the last stage completes the project)
//	RECYCLE stay at the current stage for rework, status ACTIVE
//	HOLD    stage unchanged, status ON_HOLD
//	STOP    stage unchanged, status TERMINATED
func ApplyDecision(stage int, status ProjectStatus, decision Decision) (int, ProjectStatus, error) {
	if status == ProjectStatusCompleted || status == ProjectStatusTerminated {
		return stage, status, fmt.Errorf("%w: %s at stage %d", ErrTerminalState, status, stage)
	}

	switch decision {
	case DecisionGo:
		if stage >= MaxStage {
			return MaxStage, ProjectStatusCompleted, nil
		}
		return stage + 1, ProjectStatusActive, nil
	case DecisionRecycle:
		return stage, ProjectStatusActive, nil
	case DecisionHold:
		return stage, ProjectStatusOnHold, nil
	case DecisionStop:
		return stage, ProjectStatusTerminated, nil
	default:
		return stage, status, fmt.Errorf("unknown decision: %q", decision)
	}
}
