package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidAuditLog reports an entry missing its action or subject.
var ErrInvalidAuditLog = errors.New("audit: action, entity and entity id are required")

// AuditLog is one row of audit_logs. A zero At lets the database stamp it.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

func (l AuditLog) validate() error {
	if l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return ErrInvalidAuditLog
	}
	return nil
}

// AuditLogger appends to audit_logs. Services call it after their unit of
// work commits, so a failed audit write never rolls back a posting.
type AuditLogger struct {
	exec Execer
}

// NewAuditLogger writes through exec, usually the *pgxpool.Pool.
func NewAuditLogger(exec Execer) *AuditLogger {
	return &AuditLogger{exec: exec}
}

const insertAudit = `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`

// Record appends entry.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.exec == nil {
		return errors.New("audit: logger not configured")
	}
	if err := entry.validate(); err != nil {
		return err
	}
	var meta []byte
	if len(entry.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(entry.Meta); err != nil {
			return fmt.Errorf("audit: encode meta: %w", err)
		}
	}
	var at *time.Time
	if !entry.At.IsZero() {
		at = &entry.At
	}
	_, err := l.exec.Exec(ctx, insertAudit, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, meta, at)
	return err
}
