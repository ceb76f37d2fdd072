package websocket

import (
	"context"
	"sort"
	"time"

	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/privacy"
	"github.com/raaihank/pii-redactor/internal/store"
)

// NoteRedacted broadcasts a note_redacted event for a persisted record
func (h *Hub) NoteRedacted(ctx context.Context, record store.AuditRecord, entities privacy.DetectionResult, elapsed time.Duration) {
	requestID := logger.RequestIDFromContext(ctx)
	h.BroadcastEvent(Event{
		Type:      EventTypeNoteRedacted,
		Timestamp: record.CreationDate,
		RequestID: requestID,
		Data: NoteRedactedEvent{
			RecordID:      record.ID,
			EntityTypes:   entityTypes(entities),
			TotalEntities: len(entities),
			MessageLength: record.MessageLength,
			ProcessingMS:  float64(elapsed.Microseconds()) / 1000,
		},
	})
}

// entityTypes returns the distinct types in entities, sorted
func entityTypes(entities privacy.DetectionResult) []string {
	seen := make(map[string]bool, len(entities))
	types := make([]string, 0, len(entities))
	for _, e := range entities {
		if !seen[e.Type] {
			seen[e.Type] = true
			types = append(types, e.Type)
		}
	}
	sort.Strings(types)
	return types
}
