// Package audit writes best-effort audit entries for security-relevant
// operations. Storage is an external collaborator behind the Sink interface;
// failures are logged and never affect the calling operation.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Entry is a single audit record.
type Entry struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}

// Sink persists audit entries (external collaborator).
type Sink interface {
	Write(ctx context.Context, e *Entry) error
}

// AuditLogger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource, ip, metadata string)
}

// Logger implements AuditLogger over a Sink. A nil sink disables auditing.
type Logger struct {
	sink Sink
}

// NewLogger returns an AuditLogger that writes to sink. sink may be nil.
func NewLogger(sink Sink) *Logger {
	return &Logger{sink: sink}
}

// LogEvent writes one audit entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource, ip, metadata string) {
	if l == nil || l.sink == nil {
		return
	}
	entry := &Entry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.sink.Write(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", action, resource, err)
	}
}
