package domain

import "time"

// AuditEvent is one append-only security decision record.
type AuditEvent struct {
	ID string
	// AccountID is the resolved account id, or the attempted identifier when no account resolved.
	// Empty only when neither is known.
	AccountID     string
	Action        string
	SourceAddress string
	// Detail carries optional context such as attempts remaining; never secrets.
	Detail    string
	Timestamp time.Time
}
