// Package escalation drives the multi-level escalation protocol: trigger
// evaluation against a static per-workflow policy, and the per-task
// coordinator state machine that advances through levels, invokes the bid
// market, and handles timeouts, resolution, and cancellation.
package escalation

import (
	"errors"
	"fmt"

	"github.com/industriverse/trustcore/types"
)

// ErrTimerConfiguration is returned when a policy carries a missing or
// non-positive timeout. Fatal at load time: a zero duration would mean an
// infinite wait, never an acceptable default.
var ErrTimerConfiguration = errors.New("timer duration must be positive and finite")

// triggerPrecedence fixes the evaluation order of trigger kinds within a
// level, so behavior is deterministic when several would independently fire.
var triggerPrecedence = map[types.TriggerKind]int{
	types.TriggerConfidence: 0,
	types.TriggerSeverity:   1,
	types.TriggerContext:    2,
	types.TriggerTime:       3,
}

// ValidatePolicy checks the load-time invariants of an escalation policy:
// at least one level, strictly increasing ordinals, positive timeouts, and
// known trigger kinds.
func ValidatePolicy(policy types.EscalationPolicy) error {
	if len(policy.Levels) == 0 {
		return fmt.Errorf("escalation policy for workflow %q has no levels", policy.WorkflowID)
	}
	prev := -1
	for _, level := range policy.Levels {
		if level.Ordinal <= prev {
			return fmt.Errorf("escalation level ordinals must be strictly increasing: %d after %d",
				level.Ordinal, prev)
		}
		prev = level.Ordinal
		if level.TimeoutSeconds <= 0 {
			return fmt.Errorf("%w: level %d timeout_seconds=%d",
				ErrTimerConfiguration, level.Ordinal, level.TimeoutSeconds)
		}
		if len(level.Triggers) == 0 {
			return fmt.Errorf("escalation level %d has no trigger conditions", level.Ordinal)
		}
		for _, cond := range level.Triggers {
			if _, ok := triggerPrecedence[cond.Kind]; !ok {
				return fmt.Errorf("escalation level %d has unknown trigger kind %q",
					level.Ordinal, cond.Kind)
			}
		}
	}
	return nil
}

// EvaluateTriggers returns the next escalation level to enter given the
// current level ordinal (-1 when no escalation is open) and the task's
// runtime signals, or false when no trigger condition holds and the caller
// should keep waiting.
//
// Levels only advance forward: only ordinals strictly greater than
// currentOrdinal are considered, lowest first. Within a level, trigger kinds
// are evaluated in fixed precedence (confidence, severity, context, time) and
// the first true condition wins. An exhausted or otherwise terminal instance
// must not be re-evaluated; callers enforce that via status checks.
func EvaluateTriggers(policy types.EscalationPolicy, currentOrdinal int, sig types.RuntimeSignals) (types.EscalationLevel, bool) {
	for _, level := range policy.Levels {
		if level.Ordinal <= currentOrdinal {
			continue
		}
		if levelTriggered(level, sig) {
			return level, true
		}
	}
	return types.EscalationLevel{}, false
}

// levelTriggered checks a level's conditions in precedence order.
func levelTriggered(level types.EscalationLevel, sig types.RuntimeSignals) bool {
	for _, cond := range sortedByPrecedence(level.Triggers) {
		if conditionHolds(cond, level, sig) {
			return true
		}
	}
	return false
}

func conditionHolds(cond types.TriggerCondition, level types.EscalationLevel, sig types.RuntimeSignals) bool {
	switch cond.Kind {
	case types.TriggerConfidence:
		return sig.Confidence < cond.ConfidenceFloor
	case types.TriggerSeverity:
		return sig.Severity != "" && sig.Severity.AtLeast(cond.MinSeverity)
	case types.TriggerContext:
		if len(cond.ContextFlags) == 0 {
			return false
		}
		for _, flag := range cond.ContextFlags {
			if !sig.HasFlag(flag) {
				return false
			}
		}
		return true
	case types.TriggerTime:
		return sig.ElapsedInLevel >= level.Timeout()
	default:
		return false
	}
}

// levelAfter returns the level with the lowest ordinal strictly greater than
// the given ordinal, or false when the policy is exhausted past it.
func levelAfter(policy types.EscalationPolicy, ordinal int) (types.EscalationLevel, bool) {
	for _, level := range policy.Levels {
		if level.Ordinal > ordinal {
			return level, true
		}
	}
	return types.EscalationLevel{}, false
}

// levelByOrdinal looks up a level by its exact ordinal.
func levelByOrdinal(policy types.EscalationPolicy, ordinal int) (types.EscalationLevel, bool) {
	for _, level := range policy.Levels {
		if level.Ordinal == ordinal {
			return level, true
		}
	}
	return types.EscalationLevel{}, false
}
