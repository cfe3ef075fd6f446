package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

func TestQueueNames(t *testing.T) {
	work := WorkQueueNames()
	want := []string{"feedback.escalation", "feedback.downstream"}
	if len(work) != len(want) {
		t.Fatalf("WorkQueueNames len = %d, want %d", len(work), len(want))
	}
	for i := range want {
		if work[i] != want[i] {
			t.Fatalf("WorkQueueNames[%d] = %s, want %s", i, work[i], want[i])
		}
	}

	dlq := DLQNames()
	wantDLQ := []string{"dlq.feedback.escalation", "dlq.feedback.downstream"}
	for i := range wantDLQ {
		if dlq[i] != wantDLQ[i] {
			t.Fatalf("DLQNames[%d] = %s, want %s", i, dlq[i], wantDLQ[i])
		}
	}
}

func TestPriorityValue(t *testing.T) {
	tests := []struct {
		name string
		kind domain.TaskKind
		want uint8
	}{
		{name: "escalation", kind: domain.TaskEscalation, want: 2},
		{name: "downstream", kind: domain.TaskDownstream, want: 1},
		{name: "invalid", kind: domain.TaskKind("invalid"), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PriorityValue(tt.kind)
			if got != tt.want {
				t.Fatalf("PriorityValue(%q) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestOutcomeMessageValidate(t *testing.T) {
	msg := OutcomeMessage{
		Kind:       domain.TaskEscalation,
		IssuanceID: "iss-1",
		ActivityID: 7,
		Outcome:    domain.OutcomeUnhappy,
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if msg.MessageID() != "iss-1:escalation" {
		t.Fatalf("MessageID() = %s", msg.MessageID())
	}

	msg.IssuanceID = ""
	if err := msg.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}

	msg.IssuanceID = "iss-1"
	msg.Outcome = domain.OutcomeUnresolved
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for non-terminal outcome")
	}

	msg.Outcome = domain.OutcomeHappy
	msg.Kind = domain.TaskKind("sms")
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for unknown task kind")
	}
}

type fakeAck struct {
	acks    int
	nacks   int
	rejects int
	requeue bool
}

func (f *fakeAck) Ack(multiple bool) error {
	f.acks++
	return nil
}

func (f *fakeAck) Nack(multiple, requeue bool) error {
	f.nacks++
	f.requeue = requeue
	return nil
}

func (f *fakeAck) Reject(requeue bool) error {
	f.rejects++
	f.requeue = requeue
	return nil
}

func TestHandleDeliverySettlement(t *testing.T) {
	t.Parallel()

	valid := `{"kind":"downstream","issuanceId":"iss-1","activityId":7,"outcome":"happy"}`

	tests := []struct {
		name        string
		body        string
		redelivered bool
		handlerErr  error
		wantAcks    int
		wantNacks   int
		wantRejects int
		wantRequeue bool
		wantCalled  bool
	}{
		{name: "success acks", body: valid, wantAcks: 1, wantCalled: true},
		{name: "redelivered success acks", body: valid, redelivered: true, wantAcks: 1, wantCalled: true},
		{name: "invalid json rejected", body: `{`, wantRejects: 1},
		{name: "invalid payload rejected", body: `{"kind":"downstream","activityId":7,"outcome":"happy"}`, wantRejects: 1},
		{name: "first failure requeued", body: valid, handlerErr: errors.New("timeout"), wantNacks: 1, wantRequeue: true, wantCalled: true},
		{name: "second failure dead-lettered", body: valid, redelivered: true, handlerErr: errors.New("timeout"), wantRejects: 1, wantCalled: true},
		{name: "permanent failure dead-lettered", body: valid, handlerErr: fmt.Errorf("%w: no supervisor", ErrDeadLetter), wantRejects: 1, wantCalled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			consumer := NewRabbitMQConsumer(nil, 1, nil)
			ack := &fakeAck{}
			called := false

			in := inbound{body: []byte(tt.body), redelivered: tt.redelivered, ack: ack}
			err := consumer.handleDelivery(context.Background(), in, func(ctx context.Context, msg OutcomeMessage) error {
				called = true
				if msg.ActivityID != 7 || msg.Kind != domain.TaskDownstream {
					t.Errorf("msg = %+v", msg)
				}
				return tt.handlerErr
			})
			if err != nil {
				t.Fatalf("handleDelivery() error = %v", err)
			}
			if called != tt.wantCalled {
				t.Fatalf("handler called = %v, want %v", called, tt.wantCalled)
			}
			if ack.acks != tt.wantAcks || ack.nacks != tt.wantNacks || ack.rejects != tt.wantRejects {
				t.Fatalf("acks=%d nacks=%d rejects=%d, want %d/%d/%d",
					ack.acks, ack.nacks, ack.rejects, tt.wantAcks, tt.wantNacks, tt.wantRejects)
			}
			if ack.requeue != tt.wantRequeue {
				t.Fatalf("requeue = %v, want %v", ack.requeue, tt.wantRequeue)
			}
		})
	}
}

func TestHandleDeliveryReportsSettlementFailure(t *testing.T) {
	t.Parallel()

	consumer := NewRabbitMQConsumer(nil, 1, nil)
	in := inbound{body: []byte(`{`), ack: failingAck{}}
	err := consumer.handleDelivery(context.Background(), in, func(context.Context, OutcomeMessage) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "dead-letter") {
		t.Fatalf("handleDelivery() error = %v, want dead-letter settlement failure", err)
	}
}

type failingAck struct{}

func (failingAck) Ack(bool) error        { return errors.New("channel closed") }
func (failingAck) Nack(bool, bool) error { return errors.New("channel closed") }
func (failingAck) Reject(bool) error     { return errors.New("channel closed") }

func TestPublishingEnvelope(t *testing.T) {
	t.Parallel()

	stamp := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	publisher := NewRabbitMQPublisher(nil)
	publisher.now = func() time.Time { return stamp }

	msg := OutcomeMessage{
		Kind:          domain.TaskEscalation,
		IssuanceID:    "iss-1",
		ActivityID:    42,
		Outcome:       domain.OutcomeUnhappy,
		CorrelationID: "req-9",
	}
	pub, err := publisher.publishing(msg)
	if err != nil {
		t.Fatalf("publishing() error = %v", err)
	}

	if pub.MessageId != "iss-1:escalation" || pub.CorrelationId != "req-9" || pub.Type != "escalation" {
		t.Fatalf("ids = %q %q %q", pub.MessageId, pub.CorrelationId, pub.Type)
	}
	if pub.Priority != 2 || pub.DeliveryMode != amqp.Persistent || !pub.Timestamp.Equal(stamp) {
		t.Fatalf("priority=%d mode=%d ts=%v", pub.Priority, pub.DeliveryMode, pub.Timestamp)
	}
	if pub.Headers[headerActivityID] != int64(42) || pub.Headers[headerOutcome] != "unhappy" {
		t.Fatalf("headers = %v", pub.Headers)
	}

	var decoded OutcomeMessage
	if err := json.Unmarshal(pub.Body, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if decoded != msg {
		t.Fatalf("body = %+v, want %+v", decoded, msg)
	}
}

func TestPublishRequiresClient(t *testing.T) {
	t.Parallel()

	msg := OutcomeMessage{Kind: domain.TaskDownstream, IssuanceID: "iss-1", ActivityID: 1, Outcome: domain.OutcomeHappy}
	if err := NewRabbitMQPublisher(nil).Publish(context.Background(), QueueName(domain.TaskDownstream), msg); err == nil {
		t.Fatal("Publish() without client error = nil, want error")
	}
	if got := consumerTag("feedback.downstream"); got != "feedback-engine:feedback.downstream" {
		t.Fatalf("consumerTag() = %q", got)
	}
}
