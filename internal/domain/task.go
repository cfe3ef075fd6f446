package domain

import (
	"fmt"
	"strings"
)

// TaskKind names a post-verification side effect.
type TaskKind string

const (
	TaskEscalation TaskKind = "escalation"
	TaskDownstream TaskKind = "downstream"
)

func (k TaskKind) String() string { return string(k) }

func (k TaskKind) IsValid() bool {
	return k == TaskEscalation || k == TaskDownstream
}

// OutcomeTask is a side effect scheduled after an issuance resolves.
type OutcomeTask struct {
	Kind          TaskKind
	IssuanceID    string
	ActivityID    int64
	Outcome       Outcome
	CorrelationID string
}

func (t OutcomeTask) Validate() error {
	if !t.Kind.IsValid() {
		return fmt.Errorf("%w: invalid task kind %q", ErrValidation, t.Kind)
	}
	if strings.TrimSpace(t.IssuanceID) == "" {
		return fmt.Errorf("%w: issuance id is required", ErrValidation)
	}
	if t.ActivityID <= 0 {
		return fmt.Errorf("%w: activity id must be positive", ErrValidation)
	}
	if !t.Outcome.IsTerminal() {
		return fmt.Errorf("%w: outcome %q is not terminal", ErrValidation, t.Outcome)
	}
	return nil
}

// TasksFor lists the side effects owed for a terminal outcome.
func TasksFor(outcome Outcome) []TaskKind {
	switch outcome {
	case OutcomeUnhappy:
		return []TaskKind{TaskEscalation, TaskDownstream}
	case OutcomeHappy:
		return []TaskKind{TaskDownstream}
	}
	return nil
}
