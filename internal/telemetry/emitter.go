// Package telemetry emits security events (login failures, lockouts, replay
// detection, device denials) to Kafka and/or OTel logs. Emission is
// best-effort and never affects the outcome of the operation that emitted.
package telemetry

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"device-trust-engine/internal/telemetry/domain"
)

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// EventEmitter emits security events. Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.SecurityEvent) error
}

// NewEvent builds a SecurityEvent with id and timestamp filled in.
func NewEvent(eventType, userID, sessionID, ip string, metadata map[string]string) *domain.SecurityEvent {
	return &domain.SecurityEvent{
		ID:        uuid.New().String(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IPAddress: ip,
		Source:    "device-trust-engine",
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
}

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
// Use from request paths for fire-and-forget, best-effort events; errors are logged.
//
// emitter and event may be nil; EmitAsync returns immediately without starting a goroutine.
// The goroutine uses context.Background() with emitTimeout so request cancellation does not abort in-flight emit.
func EmitAsync(emitter EventEmitter, ctx context.Context, event *domain.SecurityEvent) {
	if emitter == nil || event == nil {
		return
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Printf("telemetry: async emit failed: %v", err)
		}
	}()
}
