package mq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeAcknowledger записывает вызовы ack/nack.
type fakeAcknowledger struct {
	acks    int
	nacks   int
	requeue bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error { f.acks++; return nil }
func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacks++
	f.requeue = requeue
	return nil
}
func (f *fakeAcknowledger) Reject(uint64, bool) error { return nil }

func rawDelivery(t *testing.T, ack amqp.Acknowledger, msg any) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	return amqp.Delivery{Acknowledger: ack, Body: body}
}

func testConsumer(handler Handler, manualAck bool) *Consumer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewConsumer(nil, logger, ConsumerConfig{Queue: "test", Handler: handler, ManualAck: manualAck})
}

func TestClampPriority(t *testing.T) {
	tests := map[int]uint8{-5: 0, 0: 0, 3: 3, 9: 9, 10: 10, 11: 10, 100: 10}
	for in, want := range tests {
		if got := ClampPriority(in); got != want {
			t.Errorf("ClampPriority(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestParsePayload(t *testing.T) {
	id := uuid.New()
	body, _ := json.Marshal(&Message{
		ID:        "m1",
		Type:      MessageTypeExecutionQueued,
		Payload:   ExecutionQueuedPayload{ExecutionID: id, Priority: 4},
		Timestamp: time.Now(),
	})

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatal(err)
	}

	payload, err := ParsePayload[ExecutionQueuedPayload](&msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.ExecutionID != id || payload.Priority != 4 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestDelivery_SettlesOnce(t *testing.T) {
	ack := &fakeAcknowledger{}
	d := &Delivery{Raw: amqp.Delivery{Acknowledger: ack}}

	if err := d.Nack(true); err != nil {
		t.Fatal(err)
	}
	_ = d.Ack()
	_ = d.Nack(false)

	if ack.nacks != 1 || ack.acks != 0 || !ack.requeue {
		t.Errorf("expected a single requeue nack, got %+v", ack)
	}
	if !d.Settled() {
		t.Error("delivery must be settled")
	}
}

func TestConsumer_AutoAck(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := testConsumer(func(context.Context, *Delivery) error { return nil }, false)

	c.handleDelivery(context.Background(), rawDelivery(t, ack, Message{ID: "m1"}))

	if ack.acks != 1 {
		t.Errorf("expected ack, got %+v", ack)
	}
}

func TestConsumer_HandlerErrorRequeues(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := testConsumer(func(context.Context, *Delivery) error { return errors.New("boom") }, true)

	c.handleDelivery(context.Background(), rawDelivery(t, ack, Message{ID: "m1"}))

	if ack.nacks != 1 || !ack.requeue {
		t.Errorf("expected requeue nack, got %+v", ack)
	}
}

func TestConsumer_ManualAckLeavesDeliveryToHandler(t *testing.T) {
	ack := &fakeAcknowledger{}
	var held *Delivery
	c := testConsumer(func(_ context.Context, d *Delivery) error {
		held = d
		return nil
	}, true)

	c.handleDelivery(context.Background(), rawDelivery(t, ack, Message{ID: "m1"}))

	if ack.acks != 0 || ack.nacks != 0 {
		t.Fatalf("consumer must not settle in manual mode, got %+v", ack)
	}
	_ = held.Ack()
	if ack.acks != 1 {
		t.Errorf("expected handler ack, got %+v", ack)
	}
}

func TestConsumer_BadBodyGoesToDLQ(t *testing.T) {
	ack := &fakeAcknowledger{}
	called := false
	c := testConsumer(func(context.Context, *Delivery) error { called = true; return nil }, false)

	c.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("{not json")})

	if called {
		t.Error("handler must not be called for a malformed message")
	}
	if ack.nacks != 1 || ack.requeue {
		t.Errorf("expected nack without requeue, got %+v", ack)
	}
}
