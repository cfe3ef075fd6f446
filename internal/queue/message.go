package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
)

// OutcomeMessage is the broker payload for a post-verification side effect.
type OutcomeMessage struct {
	Kind          domain.TaskKind `json:"kind"`
	IssuanceID    string          `json:"issuanceId"`
	ActivityID    int64           `json:"activityId"`
	Outcome       domain.Outcome  `json:"outcome"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

func MessageFromTask(task domain.OutcomeTask) OutcomeMessage {
	return OutcomeMessage{
		Kind:          task.Kind,
		IssuanceID:    task.IssuanceID,
		ActivityID:    task.ActivityID,
		Outcome:       task.Outcome,
		CorrelationID: task.CorrelationID,
	}
}

func (m OutcomeMessage) Task() domain.OutcomeTask {
	return domain.OutcomeTask{
		Kind:          m.Kind,
		IssuanceID:    m.IssuanceID,
		ActivityID:    m.ActivityID,
		Outcome:       m.Outcome,
		CorrelationID: m.CorrelationID,
	}
}

// MessageID is stable per issuance and task so broker-side dedup can key on it.
func (m OutcomeMessage) MessageID() string {
	return strings.TrimSpace(m.IssuanceID) + ":" + m.Kind.String()
}

func (m OutcomeMessage) Validate() error {
	if err := m.Task().Validate(); err != nil {
		return fmt.Errorf("invalid outcome message: %w", err)
	}
	return nil
}
