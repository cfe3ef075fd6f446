package domain

// DeliveryStatus is the per-channel fan-out result.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped"
	// DeliveryPending marks a channel still running when the caller stopped waiting.
	DeliveryPending DeliveryStatus = "pending"
)

func (s DeliveryStatus) String() string { return string(s) }

type ChannelResult struct {
	Channel  Channel
	Status   DeliveryStatus
	Tier     RoutingTier
	// Region is the ISO region of the recipient's calling code; set for sms only.
	Region   string
	Attempts int
	Code     ResultCode
	Detail   string
}

func (r ChannelResult) Succeeded() bool { return r.Status == DeliverySent }

func SentResult(ch Channel, attempts int) ChannelResult {
	return ChannelResult{Channel: ch, Status: DeliverySent, Attempts: attempts, Code: ResultOK}
}

func SkippedResult(ch Channel, detail string) ChannelResult {
	return ChannelResult{Channel: ch, Status: DeliverySkipped, Code: ResultOK, Detail: detail}
}

func FailedResult(ch Channel, attempts int, err error) ChannelResult {
	r := ChannelResult{Channel: ch, Status: DeliveryFailed, Attempts: attempts, Code: CodeOf(err)}
	if err != nil {
		r.Detail = err.Error()
	}
	if r.Code == ResultOK || r.Code == ResultInternal {
		r.Code = ResultChannelSendFailed
	}
	return r
}

// DispatchReport holds one result per channel.
type DispatchReport struct {
	ActivityID int64
	TryCount   int
	SMS        ChannelResult
	Email      ChannelResult
	Push       ChannelResult
}

func NewPendingReport(activityID int64, tryCount int) DispatchReport {
	return DispatchReport{
		ActivityID: activityID,
		TryCount:   tryCount,
		SMS:        ChannelResult{Channel: ChannelSMS, Status: DeliveryPending},
		Email:      ChannelResult{Channel: ChannelEmail, Status: DeliveryPending},
		Push:       ChannelResult{Channel: ChannelPush, Status: DeliveryPending},
	}
}

func (r *DispatchReport) Set(result ChannelResult) {
	switch result.Channel {
	case ChannelSMS:
		r.SMS = result
	case ChannelEmail:
		r.Email = result
	case ChannelPush:
		r.Push = result
	}
}

func (r DispatchReport) Results() []ChannelResult {
	return []ChannelResult{r.SMS, r.Email, r.Push}
}

// AnySent reports whether at least one channel delivered.
func (r DispatchReport) AnySent() bool {
	for _, result := range r.Results() {
		if result.Succeeded() {
			return true
		}
	}
	return false
}
