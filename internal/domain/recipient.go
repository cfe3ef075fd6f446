package domain

import "strings"

// RecipientProfile carries everything the fan-out needs to reach the customer of one activity.
type RecipientProfile struct {
	ActivityID   int64
	CustomerName string
	Email        string
	MailCc       string
	MailBcc      string
	CountryCode  string
	PhoneNumber  string
	RMName       string
	RMShortName  string
	ActivityName string
	PWAUrl       string
	SMSEnabled   bool
	PushEnabled  bool
	PushUserID   string
}

func (p RecipientProfile) HasDeepLink() bool {
	return strings.TrimSpace(p.PWAUrl) != ""
}

// RMFirstName is the first word of the relationship manager's name.
func (p RecipientProfile) RMFirstName() string {
	fields := strings.Fields(p.RMName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// EscalationContact identifies who hears about an unhappy outcome.
type EscalationContact struct {
	LeadID          int64
	ActivityID      int64
	SupervisorName  string
	SupervisorEmail string
	MailCc          string
	MailBcc         string
	RMName          string
	CustomerName    string
	LeaderName      string
}
