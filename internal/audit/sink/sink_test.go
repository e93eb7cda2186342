package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	otellog "go.opentelemetry.io/otel/log"

	"loginguard/internal/audit"
	"loginguard/internal/audit/domain"
)

var _ audit.Sink = (*OTelLog)(nil)
var _ audit.Sink = (*Kafka)(nil)

func testEvent() *domain.AuditEvent {
	return &domain.AuditEvent{
		ID:            "evt-1",
		AccountID:     "acct-1",
		Action:        audit.ActionLoginFailed,
		SourceAddress: "203.0.113.7",
		Detail:        "attempts remaining: 2",
		Timestamp:     time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec   otellog.Record
	calls int
}

func (r *recordCapture) Emit(_ context.Context, rec otellog.Record) {
	r.rec = rec
	r.calls++
}

func TestOTelLog_NilProvider(t *testing.T) {
	if NewOTelLog(nil) != nil {
		t.Fatal("NewOTelLog(nil) should return nil")
	}
	var s *OTelLog
	if err := s.Publish(context.Background(), testEvent()); err != nil {
		t.Errorf("nil sink Publish: %v", err)
	}
}

func TestOTelLog_Mapping(t *testing.T) {
	cap := &recordCapture{}
	s := &OTelLog{logger: cap}
	e := testEvent()
	if err := s.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if cap.calls != 1 {
		t.Fatalf("Emit calls = %d, want 1", cap.calls)
	}
	if got := cap.rec.Body().AsString(); got != e.Action {
		t.Errorf("body = %q, want %q", got, e.Action)
	}
	if !cap.rec.Timestamp().Equal(e.Timestamp) {
		t.Errorf("timestamp = %v", cap.rec.Timestamp())
	}
	if cap.rec.Severity() != otellog.SeverityWarn {
		t.Errorf("severity = %v, want WARN", cap.rec.Severity())
	}
	attrs := map[string]string{}
	cap.rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	want := map[string]string{
		"audit.id":       "evt-1",
		"audit.action":   e.Action,
		"client.address": "203.0.113.7",
		"account.id":     "acct-1",
		"audit.detail":   "attempts remaining: 2",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %s = %q, want %q", k, attrs[k], v)
		}
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		action string
		want   otellog.Severity
	}{
		{audit.ActionLoginSuccess, otellog.SeverityInfo},
		{audit.ActionLockedOut, otellog.SeverityWarn},
		{audit.ActionChangePasswordReused, otellog.SeverityWarn},
		{audit.ActionSessionRejectedPrefix + "superseded", otellog.SeverityWarn},
		{audit.ActionPasswordExpiredRedirect, otellog.SeverityInfo},
	}
	for _, tt := range tests {
		if got := severity(tt.action); got != tt.want {
			t.Errorf("severity(%q) = %v, want %v", tt.action, got, tt.want)
		}
	}
}

type mockWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.msgs = append(m.msgs, msgs...)
	return m.err
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func TestNewKafka_Disabled(t *testing.T) {
	if NewKafka(nil, "topic") != nil {
		t.Error("no brokers should disable the sink")
	}
	if NewKafka([]string{"localhost:9092"}, "") != nil {
		t.Error("empty topic should disable the sink")
	}
	var k *Kafka
	if err := k.Publish(context.Background(), testEvent()); err != nil {
		t.Errorf("nil sink Publish: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Errorf("nil sink Close: %v", err)
	}
}

func TestKafka_Publish(t *testing.T) {
	w := &mockWriter{}
	k := &Kafka{writer: w}
	if err := k.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "acct-1" {
		t.Errorf("key = %q, want acct-1", msg.Key)
	}
	var got message
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "evt-1" || got.Action != audit.ActionLoginFailed || got.SourceAddress != "203.0.113.7" {
		t.Errorf("payload = %+v", got)
	}
	if err := k.Close(); err != nil || !w.closed {
		t.Errorf("Close = %v, closed = %v", err, w.closed)
	}
}

func TestKafka_PublishError(t *testing.T) {
	k := &Kafka{writer: &mockWriter{err: errors.New("broker unavailable")}}
	if err := k.Publish(context.Background(), testEvent()); err == nil {
		t.Error("Publish should surface the write error")
	}
}
