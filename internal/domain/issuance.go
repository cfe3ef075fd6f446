package domain

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"
)

// Outcome is the verification state of an issuance.
type Outcome string

const (
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeHappy      Outcome = "happy"
	OutcomeUnhappy    Outcome = "unhappy"
)

func (o Outcome) String() string { return string(o) }

func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeUnresolved, OutcomeHappy, OutcomeUnhappy:
		return true
	}
	return false
}

func (o Outcome) IsTerminal() bool {
	return o == OutcomeHappy || o == OutcomeUnhappy
}

func ParseOutcomeFromString(s string) (Outcome, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(s)))
	if !o.IsValid() {
		return "", fmt.Errorf("%w: invalid outcome %q", ErrValidation, s)
	}
	return o, nil
}

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// Channels lists every delivery channel in fan-out order.
var Channels = []Channel{ChannelSMS, ChannelEmail, ChannelPush}

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelPush:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// FeedbackIssuance is one code-generation cycle for an activity.
type FeedbackIssuance struct {
	ID           string
	ActivityID   int64
	HappyCode    string
	UnhappyCode  string
	IssuedAt     time.Time
	TryCount     int
	Resolved     bool
	Outcome      Outcome
	ResolvedAt   *time.Time
	ChannelsSent []Channel
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (f *FeedbackIssuance) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: issuance is required", ErrValidation)
	}
	if f.ActivityID <= 0 {
		return fmt.Errorf("%w: activity id must be positive", ErrValidation)
	}
	if f.HappyCode == "" || f.UnhappyCode == "" {
		return fmt.Errorf("%w: both codes are required", ErrValidation)
	}
	if f.HappyCode == f.UnhappyCode {
		return fmt.Errorf("%w: happy and unhappy codes must differ", ErrValidation)
	}
	if f.TryCount < 1 {
		return fmt.Errorf("%w: try count must be at least 1", ErrValidation)
	}
	if !f.Outcome.IsValid() {
		return fmt.Errorf("%w: invalid outcome %q", ErrValidation, f.Outcome)
	}
	if f.Resolved != f.Outcome.IsTerminal() {
		return fmt.Errorf("%w: resolved flag disagrees with outcome %q", ErrValidation, f.Outcome)
	}
	return nil
}

// Match classifies a submitted code against the current pair.
func (f *FeedbackIssuance) Match(code string) (Outcome, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return OutcomeUnresolved, false
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(f.HappyCode)) == 1 {
		return OutcomeHappy, true
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(f.UnhappyCode)) == 1 {
		return OutcomeUnhappy, true
	}
	return OutcomeUnresolved, false
}

// Expired reports whether the pair is older than ttl. A non-positive ttl never expires.
func (f *FeedbackIssuance) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return !now.Before(f.IssuedAt.Add(ttl))
}

func (f *FeedbackIssuance) HasChannel(ch Channel) bool {
	for _, sent := range f.ChannelsSent {
		if sent == ch {
			return true
		}
	}
	return false
}

func (f *FeedbackIssuance) AddChannel(ch Channel) {
	if !f.HasChannel(ch) {
		f.ChannelsSent = append(f.ChannelsSent, ch)
	}
}
