package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"loginguard/internal/audit/domain"
	auditrepo "loginguard/internal/audit/repository"
	"loginguard/internal/logging"
)

// UnknownSource is recorded when the caller's address could not be determined.
const UnknownSource = "unknown"

const writeTimeout = 5 * time.Second

// Recorder appends one audit event. Record never fails the caller: the security decision it
// describes has already been made and persisted.
type Recorder interface {
	Record(ctx context.Context, accountID, action, sourceAddress, detail string)
}

// Sink receives a copy of every persisted event for external reporting (OTel logs, Kafka).
type Sink interface {
	Publish(ctx context.Context, e *domain.AuditEvent) error
}

// Logger implements Recorder over the audit repository.
type Logger struct {
	repo           auditrepo.Repository
	sinks          []Sink
	log            *slog.Logger
	failures       metric.Int64Counter
	consecutive    atomic.Int64
	alertThreshold int64
	now            func() time.Time
}

// NewLogger returns a Logger that persists to repo. log and meter may be nil.
// alertThreshold is the number of consecutive write failures that raise a compliance alert; <= 0 means 1.
func NewLogger(repo auditrepo.Repository, log *slog.Logger, meter metric.Meter, alertThreshold int, sinks ...Sink) *Logger {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("loginguard/audit")
	}
	failures, err := meter.Int64Counter("audit.write.failures",
		metric.WithDescription("Audit events that could not be persisted"))
	if err != nil {
		failures, _ = noop.NewMeterProvider().Meter("loginguard/audit").Int64Counter("audit.write.failures")
	}
	if alertThreshold <= 0 {
		alertThreshold = 1
	}
	return &Logger{
		repo:           repo,
		sinks:          sinks,
		log:            logging.OrDiscard(log),
		failures:       failures,
		alertThreshold: int64(alertThreshold),
		now:            time.Now,
	}
}

// Record writes one event synchronously. The write is detached from ctx cancellation so a
// client disconnect after the decision does not drop its record.
func (l *Logger) Record(ctx context.Context, accountID, action, sourceAddress, detail string) {
	if l == nil || l.repo == nil {
		return
	}
	if sourceAddress == "" {
		sourceAddress = UnknownSource
	}
	e := &domain.AuditEvent{
		ID:            uuid.New().String(),
		AccountID:     accountID,
		Action:        action,
		SourceAddress: sourceAddress,
		Detail:        detail,
		Timestamp:     l.now().UTC(),
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := l.repo.Append(writeCtx, e); err != nil {
		l.recordFailure(writeCtx, e, err)
		return
	}
	l.consecutive.Store(0)
	l.publish(ctx, e)
}

// ConsecutiveFailures returns the current run of failed writes.
func (l *Logger) ConsecutiveFailures() int64 {
	return l.consecutive.Load()
}

func (l *Logger) recordFailure(ctx context.Context, e *domain.AuditEvent, err error) {
	n := l.consecutive.Add(1)
	l.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("action", e.Action)))
	l.log.ErrorContext(ctx, "audit: failed to persist event",
		"action", e.Action, "account_id", e.AccountID, "event_id", e.ID, "error", err)
	if n >= l.alertThreshold && n%l.alertThreshold == 0 {
		l.log.ErrorContext(ctx, "audit: persistent write failure, security decisions are not being recorded",
			"consecutive_failures", n)
	}
}

func (l *Logger) publish(ctx context.Context, e *domain.AuditEvent) {
	if len(l.sinks) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, s := range l.sinks {
		go func(s Sink) {
			pubCtx, cancel := context.WithTimeout(detached, writeTimeout)
			defer cancel()
			if err := s.Publish(pubCtx, e); err != nil {
				l.log.WarnContext(pubCtx, "audit: sink publish failed", "action", e.Action, "error", err)
			}
		}(s)
	}
}
