// Package policy computes which lead statuses a user may pick next.
package policy

import (
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
)

// ReturnWindow is how long after assignment a lead can still be returned.
const ReturnWindow = 3 * 24 * time.Hour

var baseStatuses = []domain.LeadStatus{
	domain.LeadStatusHot,
	domain.LeadStatusWarm,
	domain.LeadStatusCold,
}

// Decision is the ordered list of legal next statuses.
type Decision struct {
	Statuses []domain.StatusOption
	// ReturnApplies is true while the window is open, i.e. Return rather than Not-Interested is the extra status.
	ReturnApplies bool
	WindowEnd     time.Time
}

func (d Decision) Contains(status domain.LeadStatus) bool {
	for _, option := range d.Statuses {
		if option.ID == status {
			return true
		}
	}
	return false
}

// AllowedStatuses applies the window and ownership rules. The segment does not alter the rules.
func AllowedStatuses(activity domain.LeadActivity, currentUserID int64, now time.Time) Decision {
	windowEnd := activity.ReferenceDate().Add(ReturnWindow)
	returnApplies := now.Before(windowEnd)

	statuses := make([]domain.StatusOption, 0, len(baseStatuses)+2)
	for _, s := range baseStatuses {
		statuses = append(statuses, domain.NewStatusOption(s))
	}

	if activity.IsAssignedTo(currentUserID) {
		extra := domain.LeadStatusNotInterested
		if returnApplies {
			extra = domain.LeadStatusReturn
		}
		statuses = append(statuses, domain.NewStatusOption(extra))
	}

	if activity.IsSharedWith(currentUserID) {
		statuses = append(statuses, domain.NewStatusOption(domain.LeadStatusUnshare))
	}

	return Decision{
		Statuses:      statuses,
		ReturnApplies: returnApplies,
		WindowEnd:     windowEnd,
	}
}
