// Package sink mirrors persisted audit events to external reporting: OTel log records for the
// collector and JSON messages on a Kafka topic for downstream consumers.
package sink

import (
	"context"
	"strings"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"loginguard/internal/audit"
	"loginguard/internal/audit/domain"
)

const scopeName = "loginguard.audit"

type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// OTelLog emits each audit event as an OTel log record.
type OTelLog struct {
	logger recordEmitter
}

// NewOTelLog returns a sink over provider. If provider is nil it returns nil, which the audit
// logger treats as "no sink".
func NewOTelLog(provider *sdklog.LoggerProvider) *OTelLog {
	if provider == nil {
		return nil
	}
	return &OTelLog{logger: provider.Logger(scopeName)}
}

// Publish converts e to a log record. The body is the action; the rest are attributes.
func (s *OTelLog) Publish(ctx context.Context, e *domain.AuditEvent) error {
	if s == nil || s.logger == nil || e == nil {
		return nil
	}
	var rec otellog.Record
	rec.SetTimestamp(e.Timestamp)
	rec.SetObservedTimestamp(e.Timestamp)
	rec.SetSeverity(severity(e.Action))
	rec.SetBody(otellog.StringValue(e.Action))
	rec.AddAttributes(
		otellog.String("audit.id", e.ID),
		otellog.String("audit.action", e.Action),
		otellog.String("client.address", e.SourceAddress),
	)
	if e.AccountID != "" {
		rec.AddAttributes(otellog.String("account.id", e.AccountID))
	}
	if e.Detail != "" {
		rec.AddAttributes(otellog.String("audit.detail", e.Detail))
	}
	s.logger.Emit(ctx, rec)
	return nil
}

func severity(action string) otellog.Severity {
	if action == audit.ActionLockedOut || strings.Contains(action, "Failed") || strings.Contains(action, "Rejected") {
		return otellog.SeverityWarn
	}
	return otellog.SeverityInfo
}
