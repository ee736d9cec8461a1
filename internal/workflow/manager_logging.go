package workflow

import (
	"context"
	"log/slog"

	"counsel/internal/logging"
	"counsel/internal/services"
	"counsel/internal/session"
)

func (m *Manager) sessionLogger(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, m.logger)
}

func (m *Manager) stageLogger(s *sessionRun, state session.State) *slog.Logger {
	return logging.WithContext(services.WithStage(s.ctx, string(state)), m.logger)
}
