// Package persist is the narrow seam to the external persistence
// collaborator. The relay broadcasts before anything lands here, and a
// failed save never rolls a broadcast back: live consistency between peers
// is preferred over durability for ephemeral collaboration state.
package persist

import (
	"context"
	"log/slog"

	"github.com/a-essam23/go-collab/pkg/protocol"
)

// Saver receives the effective (post-conflict-resolution) operation for
// durable storage.
type Saver interface {
	Save(ctx context.Context, roomKey string, op protocol.Operation) error
}

// LogSaver is the no-backend Saver: it records the save at debug level and
// succeeds. Used when no redis address is configured, and in tests.
type LogSaver struct {
	logger *slog.Logger
}

var _ Saver = (*LogSaver)(nil)

func NewLogSaver(logger *slog.Logger) *LogSaver {
	return &LogSaver{logger: logger.With(slog.String("component", "log_saver"))}
}

func (s *LogSaver) Save(_ context.Context, roomKey string, op protocol.Operation) error {
	s.logger.Debug("Discarding save (no persistence backend configured)",
		slog.String("roomKey", roomKey),
		slog.String("objectID", op.ObjectID),
		slog.String("type", string(op.Type)),
	)
	return nil
}
