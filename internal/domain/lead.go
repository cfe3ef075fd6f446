package domain

import (
	"fmt"
	"time"
)

// LeadStatus is a CRM lead status identifier.
type LeadStatus int

const (
	LeadStatusHot           LeadStatus = 2
	LeadStatusWarm          LeadStatus = 3
	LeadStatusCold          LeadStatus = 4
	LeadStatusNotInterested LeadStatus = 6
	LeadStatusReturn        LeadStatus = 7
	LeadStatusUnshare       LeadStatus = 9
)

var leadStatusNames = map[LeadStatus]string{
	LeadStatusHot:           "Hot",
	LeadStatusWarm:          "Warm",
	LeadStatusCold:          "Cold",
	LeadStatusNotInterested: "Not Interested",
	LeadStatusReturn:        "Return",
	LeadStatusUnshare:       "Unshare",
}

func (s LeadStatus) Name() string {
	if name, ok := leadStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// StatusOption is one selectable next status.
type StatusOption struct {
	ID   LeadStatus
	Name string
}

func NewStatusOption(s LeadStatus) StatusOption {
	return StatusOption{ID: s, Name: s.Name()}
}

// LeadActivity is a snapshot of one field activity and its parent lead.
// Zero user ids mean "nobody".
type LeadActivity struct {
	LeadID           int64
	ActivityID       int64
	AssignedToUserID int64
	SharedWithUserID int64
	SegmentID        int
	GenerationDate   time.Time
	ReassignmentDate *time.Time
	CurrentStatus    LeadStatus
}

// ReferenceDate is the reassignment date when present, otherwise the generation date.
func (a LeadActivity) ReferenceDate() time.Time {
	if a.ReassignmentDate != nil && !a.ReassignmentDate.IsZero() {
		return *a.ReassignmentDate
	}
	return a.GenerationDate
}

func (a LeadActivity) IsAssignedTo(userID int64) bool {
	return userID != 0 && a.AssignedToUserID == userID
}

func (a LeadActivity) IsSharedWith(userID int64) bool {
	return userID != 0 && a.SharedWithUserID == userID
}

func (a LeadActivity) Validate() error {
	if a.ActivityID <= 0 {
		return fmt.Errorf("%w: activity id must be positive", ErrValidation)
	}
	if a.GenerationDate.IsZero() {
		return fmt.Errorf("%w: generation date is required", ErrValidation)
	}
	return nil
}
