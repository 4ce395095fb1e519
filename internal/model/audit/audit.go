package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vault-service/internal/model/actor"
)

// Entry is emitted once per successful state-changing operation. Persisting
// entries is the audit collaborator's job; the engine only emits them.
type Entry struct {
	ID           uuid.UUID         `json:"id"`
	ActorID      uint32            `json:"actor_id"`
	Actor        string            `json:"actor"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id"`
	Details      map[string]string `json:"details,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

type Emitter interface {
	Emit(ctx context.Context, e Entry)
}

// New fills in the generated fields of an entry.
func New(act actor.Actor, action, resourceType, resourceID string, details map[string]string) Entry {
	return Entry{
		ID:           uuid.New(),
		ActorID:      act.ID,
		Actor:        act.Username,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		CreatedAt:    time.Now().UTC(),
	}
}

// LogEmitter writes entries as structured log records. Downstream audit
// storage tails these; nothing in the engine depends on them being kept.
type LogEmitter struct {
	l *zap.Logger
}

func NewLogEmitter(l *zap.Logger) *LogEmitter {
	return &LogEmitter{l: l}
}

func (e *LogEmitter) Emit(_ context.Context, entry Entry) {
	fields := []zap.Field{
		zap.String("audit_id", entry.ID.String()),
		zap.Uint32("actor_id", entry.ActorID),
		zap.String("actor", entry.Actor),
		zap.String("action", entry.Action),
		zap.String("resource_type", entry.ResourceType),
		zap.String("resource_id", entry.ResourceID),
		zap.Time("at", entry.CreatedAt),
	}
	for k, v := range entry.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}
	e.l.Info("audit", fields...)
}
