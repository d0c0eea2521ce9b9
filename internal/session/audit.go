package session

import "context"

// AuditRow is a write-only projection of a session lifecycle event to the
// external catalog store (§1: session audit rows are a catalog concern,
// out of the streaming plane's scope beyond producing this row). It is a
// distinct type from Record on purpose: a Record is mutable and
// Registry-owned, an AuditRow is an immutable fact handed off once.
type AuditRow struct {
	SessionID string
	ChannelID string
	State     State
	Reason    string
	At        int64 // unix seconds
}

// AuditSink receives AuditRows. The catalog store implements this; the
// streaming plane depends only on the interface.
type AuditSink interface {
	WriteAudit(ctx context.Context, row AuditRow) error
}

// NopAuditSink discards rows; used when no catalog is wired (e.g. tests).
type NopAuditSink struct{}

func (NopAuditSink) WriteAudit(context.Context, AuditRow) error { return nil }
