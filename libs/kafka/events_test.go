package kafka

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestDeterministicEventIDIsStable(t *testing.T) {
	a := DeterministicEventID("orders.executed", "order-1", "SUCCESS")
	b := DeterministicEventID("orders.executed", "order-1", "SUCCESS")
	c := DeterministicEventID("orders.executed", "order-1", "REJECTED")
	if a != b {
		t.Fatalf("expected identical ids, got %s and %s", a, b)
	}
	if a == c {
		t.Fatalf("expected different states to produce different ids")
	}
}

func TestEnvelopeValidate(t *testing.T) {
	env, err := NewEnvelope("payments.captured", 1, "corr")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	env.EventID = ""
	env.EventVersion = 0
	err = env.Validate()
	if !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected invalid envelope, got %v", err)
	}
	if !strings.Contains(err.Error(), "event_id") || !strings.Contains(err.Error(), "event_version") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
	if _, err := NewEnvelope("", 1, ""); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected missing event_type to fail, got %v", err)
	}
}

func TestDeadLetterFromMessage(t *testing.T) {
	msg := &sarama.ConsumerMessage{Topic: "payments.captured", Partition: 2, Offset: 9, Key: []byte("k"), Value: []byte(`{"x":1}`)}
	cause := DLQ(errors.New("bad json"), "decode")
	if ReasonOf(cause) != "decode" {
		t.Fatalf("expected reason decode, got %q", ReasonOf(cause))
	}
	if ReasonOf(errors.New("plain")) != "" {
		t.Fatalf("expected empty reason for plain error")
	}

	var dlqErr *DLQError
	if !errors.As(cause, &dlqErr) {
		t.Fatalf("expected DLQError")
	}
	record := deadLetterFromMessage(msg, dlqErr, 3)
	if record.Topic != "payments.captured" || record.Offset != 9 || record.Attempts != 3 || record.Key != "k" {
		t.Fatalf("unexpected record %+v", record)
	}

	raw, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["payload"] != base64.StdEncoding.EncodeToString(msg.Value) {
		t.Fatalf("expected base64 payload, got %v", decoded["payload"])
	}

	empty := deadLetterFromMessage(nil, dlqErr, 1)
	if empty.Topic != "" || empty.Error != "bad json" {
		t.Fatalf("unexpected record for nil message %+v", empty)
	}
}

func TestTraceContextRoundTripsThroughHeaders(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := oteltrace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := oteltrace.SpanIDFromHex("00f067aa0ba902b7")
	sc := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: oteltrace.FlagsSampled,
	})
	ctx := oteltrace.ContextWithSpanContext(context.Background(), sc)

	headers := outgoingHeaders(ctx)
	if (producerCarrier{headers: &headers}).Get("content-type") != contentTypeJSON {
		t.Fatalf("expected content-type header")
	}

	msg := &sarama.ConsumerMessage{}
	for i := range headers {
		msg.Headers = append(msg.Headers, &headers[i])
	}
	got := oteltrace.SpanContextFromContext(contextFromMessage(context.Background(), msg))
	if got.TraceID() != traceID {
		t.Fatalf("expected trace %s, got %s", traceID, got.TraceID())
	}
}

func TestLogPublisherLogsRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := NewLogPublisher(logger)

	if _, _, err := p.PublishJSON(context.Background(), "trading.orders", "user-1", map[string]string{"order_id": "o-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !strings.Contains(buf.String(), "trading.orders") || !strings.Contains(buf.String(), "o-1") {
		t.Fatalf("expected record in log output, got %s", buf.String())
	}
}
